package test

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

var (
	p    *DockerPool
	once sync.Once
)

// DockerPool lets you manage docker containers.
type DockerPool struct {
	pool *dockertest.Pool
}

// PostgresResource is a running Postgres container prepared for logical
// replication, plus a query-mode connection to it.
type PostgresResource struct {
	DB  *sql.DB
	URL string

	resource *dockertest.Resource
}

// GetDockerPool get a docker pool.
func GetDockerPool() *DockerPool {
	once.Do(func() {
		pool, err := dockertest.NewPool("")
		if err != nil {
			log.Fatalf("Could not construct pool: %s", err)
		}

		err = pool.Client.Ping()
		if err != nil {
			log.Fatalf("Could not connect to Docker: %s", err)
		}

		pool.MaxWait = 120 * time.Second

		p = &DockerPool{
			pool: pool,
		}
	})

	return p
}

// RunPostgres creates a Postgres container with wal_level=logical and a
// pg_hba entry permitting replication connections from the host.
func (dp *DockerPool) RunPostgres() *PostgresResource {
	resource, err := dp.pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "debezium/postgres",
		Tag:        "14-alpine",
		Cmd:        []string{"postgres", "-c", "wal_level=logical"},
		Env: []string{
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_USER=admin",
			"POSTGRES_DB=walfeed",
			"listen_addresses = '*'",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Fatalf("Could not start resource: %s", err)
	}

	_ = resource.Expire(600) // Tell docker to hard kill the container in 600 seconds

	uri := fmt.Sprintf("postgres://admin:secret@%s/walfeed?sslmode=disable", resource.GetHostPort("5432/tcp"))
	db, err := sql.Open("postgres", uri)
	if err != nil {
		log.Fatalf("Could not open the database: %s", err)
	}

	if err = dp.pool.Retry(func() error {
		return db.Ping()
	}); err != nil {
		log.Fatalf("Could not connect to docker: %s", err)
	}

	if _, err := db.ExecContext(context.Background(), `
		CREATE TABLE hba (lines text);
		COPY hba FROM '/var/lib/postgresql/data/pg_hba.conf';
		INSERT INTO hba (lines) VALUES ('host  replication admin  all                 md5');
		INSERT INTO hba (lines) VALUES ('host  all         admin  all                 md5');
		COPY hba TO '/var/lib/postgresql/data/pg_hba.conf';
		DROP TABLE hba;
		SELECT pg_reload_conf();
	`); err != nil {
		log.Fatalf("Could not setup replication to docker: %s", err)
	}

	return &PostgresResource{DB: db, URL: uri, resource: resource}
}

// Purge removes the Postgres container.
func (dp *DockerPool) Purge(r *PostgresResource) {
	_ = r.DB.Close()
	if err := dp.pool.Purge(r.resource); err != nil {
		log.Fatalf("Could not purge resource: %s", err)
	}
}
