package main

import (
	"database/sql"
	"flag"
	"log"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-pickup/internal/config"
	"ms-pickup/internal/database/migrations"
)

func main() {
	_ = godotenv.Load()

	var (
		dir  = flag.String("dir", "./migrations", "migrations directory")
		down = flag.Bool("down", false, "roll back one migration instead of applying")
	)
	flag.Parse()

	cfg := config.Load()
	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.Options{MigrationsDir: *dir})
	if *down {
		if err := runner.Down(); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		log.Println("rolled back one migration")
		return
	}
	if err := runner.Up(); err != nil {
		log.Fatalf("migrate up: %v", err)
	}
	log.Println("migrations applied")
}
