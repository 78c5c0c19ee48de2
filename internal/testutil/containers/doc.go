// Package containers starts the Docker dependencies of alertd integration
// tests with testcontainers-go:
//
//   - MySQL 8.0, for the GORM repositories
//   - Eclipse Mosquitto, for the MQTT telemetry source
//   - Redis 7, for the distributed suppression store
//
// Containers are usually owned by TestMain of an integration test package:
//
//	var redisContainer *containers.RedisContainer
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    var err error
//	    redisContainer, err = containers.NewRedisContainer(ctx, nil)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    code := m.Run()
//	    _ = redisContainer.Terminate(ctx)
//	    os.Exit(code)
//	}
//
// Every file in this package carries the "integration" build tag:
//
//	go test -tags=integration ./...
//
//nolint:misspell // Mosquitto is the official Eclipse project name
package containers
