package datastore

import (
	"net"
	"net/url"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/tphakala/errintake/internal/errors"
)

// FromDatabaseURL converts a SQLAlchemy-style database URL, as found in the
// DB_URL variable of earlier deployments, into a DSN accepted by NewManager.
//
//	sqlite:///errors.db         -> sqlite://errors.db (relative)
//	sqlite:////var/errors.db    -> sqlite:///var/errors.db (absolute)
//	sqlite://                   -> in-memory database
//	mysql+pymysql://u:p@h/db    -> mysql://u:p@tcp(h:3306)/db?parseTime=true
//	postgresql+psycopg2://...   -> postgres://...
func FromDatabaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		return "", urlError("database URL has no scheme", raw)
	}
	backend, _, _ := strings.Cut(strings.ToLower(scheme), "+")

	switch backend {
	case DialectSQLite:
		// The first slash separates the empty host from the path.
		path := strings.TrimPrefix(rest, "/")
		path, _, _ = strings.Cut(path, "?")
		if path == "" || path == ":memory:" {
			return "sqlite://:memory:", nil
		}
		return "sqlite://" + path, nil
	case DialectMySQL, "mariadb":
		return mysqlFromURL(raw)
	case DialectPostgres, "postgresql":
		u, err := url.Parse(raw)
		if err != nil {
			return "", urlError("invalid postgres URL", raw)
		}
		u.Scheme = DialectPostgres
		return u.String(), nil
	default:
		return "", urlError("unsupported database URL backend "+backend, raw)
	}
}

func mysqlFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", urlError("invalid mysql URL", raw)
	}

	cfg := mysqldriver.NewConfig()
	cfg.Net = "tcp"
	cfg.ParseTime = true
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	host, port := u.Hostname(), u.Port()
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "3306"
	}
	cfg.Addr = net.JoinHostPort(host, port)

	dsn := cfg.FormatDSN()
	if charset := u.Query().Get("charset"); charset != "" {
		dsn += "&charset=" + url.QueryEscape(charset)
	}
	parsed, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", urlError("invalid mysql URL", raw)
	}
	return "mysql://" + parsed.FormatDSN(), nil
}

// urlError reports a bad URL without echoing credentials.
func urlError(msg, raw string) error {
	scheme, _, _ := strings.Cut(raw, "://")
	return errors.Newf("%s", msg).
		Component("datastore").
		Category(errors.CategoryConfiguration).
		Context("scheme", scheme).
		Build()
}
