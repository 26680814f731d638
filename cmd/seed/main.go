package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seturahealth/vaccine-slot-booking/internal/db"
	"github.com/seturahealth/vaccine-slot-booking/internal/vaccine"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.ApplySchema(context.Background(), pool); err != nil {
		log.Fatalf("apply schema: %v", err)
	}
	log.Println("schema applied")

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedCenters(context.Background(), pool, 200); err != nil {
		log.Fatalf("seed centers: %v", err)
	}
	if err := seedCitizens(context.Background(), pool, 10000); err != nil {
		log.Fatalf("seed citizens: %v", err)
	}

	log.Println("seed complete")
}

type cityState struct {
	city  string
	state string
}

var locations = []cityState{
	{"mumbai", "maharashtra"},
	{"pune", "maharashtra"},
	{"delhi", "delhi"},
	{"bengaluru", "karnataka"},
	{"mysuru", "karnataka"},
	{"chennai", "tamil nadu"},
	{"kolkata", "west bengal"},
	{"hyderabad", "telangana"},
	{"ahmedabad", "gujarat"},
	{"jaipur", "rajasthan"},
}

var vaccines = []string{
	vaccine.Covacin,
	vaccine.Covishield,
	vaccine.Covovax,
	vaccine.Incovacc,
}

func seedCenters(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d centers", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		loc := locations[gofakeit.Number(0, len(locations)-1)]
		openHour := gofakeit.Number(8, 10)
		closeHour := gofakeit.Number(16, 20)

		_, err := tx.Exec(ctx, `
			INSERT INTO centers (id, name, pincode, address, city, state, vaccine,
			                     is_active, slot_duration_minutes, slot_max_appointments,
			                     open_time, close_time, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8, $9, $10, $11, now(), now())
		`,
			uuid.New(),
			fmt.Sprintf("%s Vaccination Center", gofakeit.Company()),
			fmt.Sprintf("%06d", gofakeit.Number(100000, 999999)),
			gofakeit.Street(),
			loc.city,
			loc.state,
			vaccines[gofakeit.Number(0, len(vaccines)-1)],
			30,
			gofakeit.Number(5, 20),
			fmt.Sprintf("%02d:00", openHour),
			fmt.Sprintf("%02d:00", closeHour),
		)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("centers seeded")
	return nil
}

func seedCitizens(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d citizens", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO citizens (id, national_id, name, phone, pincode,
				                      vaccination_status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, 0, now(), now())
			`,
				uuid.New(),
				fmt.Sprintf("%012d", gofakeit.Number(100000000000, 999999999999)),
				gofakeit.Name(),
				fmt.Sprintf("9%09d", gofakeit.Number(100000000, 999999999)),
				fmt.Sprintf("%06d", gofakeit.Number(100000, 999999)),
			)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("citizens seeded: %d/%d", end, count)
	}

	log.Println("citizens seeded")
	return nil
}
