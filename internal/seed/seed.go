// Package seed loads services, users and notification rules from a YAML
// file and applies them through the rule upsert engine.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tphakala/errintake/internal/datastore/repository"
	"github.com/tphakala/errintake/internal/errors"
	"github.com/tphakala/errintake/internal/intake"
	"github.com/tphakala/errintake/internal/logger"
	"github.com/tphakala/errintake/internal/routing"
	"gopkg.in/yaml.v3"
)

const component = "seed"

// File is the seed document.
type File struct {
	Services []ServiceRef        `yaml:"services"`
	Users    []routing.UserInput `yaml:"users"`
	Rules    []Rule              `yaml:"rules"`
}

// ServiceRef names a service by its natural key.
type ServiceRef struct {
	Name  string `yaml:"name"`
	Group string `yaml:"group"`
}

// Rule is a notification rule keyed by service and user. The user is given
// either by UserEmail, which must already exist, or inline by User.
type Rule struct {
	Service      ServiceRef         `yaml:"service"`
	UserEmail    string             `yaml:"user_email"`
	User         *routing.UserInput `yaml:"user"`
	MinSeverity  string             `yaml:"min_severity"`
	Enabled      *bool              `yaml:"enabled"`
	DoEmail      bool               `yaml:"do_email"`
	DoHaloTicket bool               `yaml:"do_halo_ticket"`
	DoCall       bool               `yaml:"do_call"`
}

// Result counts what Apply changed.
type Result struct {
	ServicesCreated int
	UsersCreated    int
	RulesCreated    int
	RulesUpdated    int
}

// Load reads and parses a seed file.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open seed file: %w", err)).
			Component(component).
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a seed document. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc File
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.New(fmt.Errorf("invalid seed file: %w", err)).
			Component(component).
			Category(errors.CategoryValidation).
			Build()
	}
	return &doc, nil
}

// Apply upserts services, then users, then rules. Re-applying the same file
// changes nothing but rule timestamps. Users are checked against the intake
// schema before anything is written; after that Apply stops at the first
// failing entry.
func Apply(ctx context.Context, u *routing.Upserter, store *repository.Store, v *intake.Validator, doc *File, log logger.Logger) (Result, error) {
	var res Result

	if err := checkUsers(v, doc); err != nil {
		return res, err
	}

	for i, s := range doc.Services {
		_, created, err := u.ResolveService(ctx, s.Name, s.Group)
		if err != nil {
			return res, entryError("services", i, err)
		}
		if created {
			res.ServicesCreated++
		}
	}

	for i, in := range doc.Users {
		_, created, err := u.ResolveUser(ctx, in)
		if err != nil {
			return res, entryError("users", i, err)
		}
		if created {
			res.UsersCreated++
		}
	}

	for i := range doc.Rules {
		req, err := ruleRequest(ctx, u, store, &doc.Rules[i])
		if err != nil {
			return res, entryError("rules", i, err)
		}
		_, created, err := u.Upsert(ctx, req)
		if err != nil {
			return res, entryError("rules", i, err)
		}
		if created {
			res.RulesCreated++
		} else {
			res.RulesUpdated++
		}
	}

	log.Info("seed applied",
		logger.Int("services_created", res.ServicesCreated),
		logger.Int("users_created", res.UsersCreated),
		logger.Int("rules_created", res.RulesCreated),
		logger.Int("rules_updated", res.RulesUpdated))
	return res, nil
}

func checkUsers(v *intake.Validator, doc *File) error {
	for i, in := range doc.Users {
		if err := v.CheckUser(in); err != nil {
			return entryError("users", i, err)
		}
	}
	for i, r := range doc.Rules {
		if r.User == nil {
			continue
		}
		if err := v.CheckUser(*r.User); err != nil {
			return entryError("rules", i, err)
		}
	}
	return nil
}

func ruleRequest(ctx context.Context, u *routing.Upserter, store *repository.Store, r *Rule) (routing.RuleRequest, error) {
	svc, _, err := u.ResolveService(ctx, r.Service.Name, r.Service.Group)
	if err != nil {
		return routing.RuleRequest{}, err
	}
	req := routing.RuleRequest{
		User:         r.User,
		ServiceID:    svc.ID,
		MinSeverity:  r.MinSeverity,
		Enabled:      r.Enabled,
		DoEmail:      r.DoEmail,
		DoHaloTicket: r.DoHaloTicket,
		DoCall:       r.DoCall,
	}
	if r.UserEmail != "" {
		user, err := store.Users().FindByEmail(ctx, routing.NormalizeEmail(r.UserEmail))
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return routing.RuleRequest{}, errors.Newf("unknown user_email %q", r.UserEmail).
					Component(component).
					Category(errors.CategoryValidation).
					Build()
			}
			return routing.RuleRequest{}, err
		}
		req.UserID = &user.ID
	}
	return req, nil
}

func entryError(section string, index int, err error) error {
	return errors.New(fmt.Errorf("%s[%d]: %w", section, index, err)).
		Component(component).
		Category(errors.CategoryOf(err)).
		Context("section", section).
		Context("index", index).
		Build()
}
