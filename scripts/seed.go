package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"

	"github.com/zatekoja/telecare/internal/adapters/database"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/telecare/pkg/config"
)

type demoPatient struct {
	id    string
	name  string
	phone string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	pgClient, err := postgres.NewClient(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pgClient.Close()

	if os.Getenv("RESET_DB") == "true" {
		log.Println("RESET_DB=true detected, truncating tables before seeding")
		_, err := pgClient.DB().ExecContext(ctx, `
			TRUNCATE TABLE
				scheduled_calls,
				appointments
			RESTART IDENTITY CASCADE
		`)
		if err != nil {
			log.Fatalf("Failed to reset tables: %v", err)
		}
	}

	db := goqu.New("postgres", pgClient.DB())
	callRepo := database.NewScheduledCallAdapter(pgClient)

	doctorID := getenv("SEED_DOCTOR_ID", "doctor-demo")
	patients := []demoPatient{
		{id: "patient-ada", name: "Ada Okafor", phone: "+2348010000001"},
		{id: "patient-bayo", name: "Bayo Adeyemi", phone: "+2348010000002"},
		{id: "patient-chioma", name: "Chioma Eze", phone: "+2348010000003"},
	}

	now := time.Now().UTC()
	for i, p := range patients {
		appointmentID := uuid.New().String()
		mode := entities.CallModeVideo
		if i%2 == 1 {
			mode = entities.CallModeVoice
		}

		query, args, err := db.Insert("appointments").Rows(goqu.Record{
			"id":            appointmentID,
			"doctor_id":     doctorID,
			"patient_id":    p.id,
			"mode":          mode,
			"scheduled_at":  now.Add(time.Duration(i) * time.Hour),
			"status":        entities.AppointmentStatusConfirmed,
			"patient_name":  p.name,
			"patient_phone": p.phone,
			"reason":        "Follow-up consultation",
			"created_at":    now,
			"updated_at":    now,
		}).ToSQL()
		if err != nil {
			log.Fatalf("Failed to build appointment insert: %v", err)
		}
		if _, err := pgClient.DB().ExecContext(ctx, query, args...); err != nil {
			log.Printf("Failed to create appointment for %s: %v", p.name, err)
			continue
		}

		// first patient gets an immediate call, the rest land inside and outside the reminder window
		call := &entities.ScheduledCall{
			ID:            uuid.New().String(),
			PatientID:     p.id,
			DoctorID:      doctorID,
			AppointmentID: appointmentID,
			PatientName:   p.name,
			PatientPhone:  p.phone,
			Issue:         "Follow-up consultation",
			Mode:          mode,
			Status:        entities.ScheduledCallStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if i == 0 {
			call.IsImmediate = true
		} else {
			at := now.Add(time.Duration(i*7) * time.Minute)
			call.ScheduledTime = &at
		}
		call.CallLink = entities.BuildCallLink(cfg.Calls.PublicOrigin, call.ID)

		if err := callRepo.Create(ctx, call); err != nil {
			log.Printf("Failed to create scheduled call for %s: %v", p.name, err)
			continue
		}
		log.Printf("Seeded appointment %s and call %s for %s", appointmentID, call.ID, p.name)
	}

	log.Println("Seeding complete")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
