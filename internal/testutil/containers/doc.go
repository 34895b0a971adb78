// Package containers starts Docker-backed dependencies for integration
// tests using testcontainers-go. It currently provides MySQL 8.0.
//
// Containers are shared per package through TestMain:
//
//	var mysqlContainer *containers.MySQLContainer
//
//	func TestMain(m *testing.M) {
//	    var err error
//	    mysqlContainer, err = containers.NewMySQLContainer(context.Background(), nil)
//	    if err != nil {
//	        panic(err)
//	    }
//	    code := m.Run()
//	    _ = mysqlContainer.Terminate(context.Background())
//	    os.Exit(code)
//	}
//
// Files using this package carry the integration build tag and run with:
//
//	go test -tags=integration ./...
package containers
