package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haloedu/ujianku-backend/internal/config"
	"github.com/haloedu/ujianku-backend/internal/database"
	"github.com/haloedu/ujianku-backend/internal/logger"
	"github.com/haloedu/ujianku-backend/internal/model"
	"github.com/haloedu/ujianku-backend/internal/repository"
	"github.com/haloedu/ujianku-backend/internal/service"
)

// Development seeder: creates 50 student accounts with predictable
// credentials (NISN 0010000001.., password "ujianku123").
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	studentRepo := repository.NewStudentRepository(pool)
	studentService := service.NewStudentService(studentRepo)

	fmt.Println("=== Seeding 50 Students ===")

	names := []string{
		"Budi Santoso", "Siti Aminah", "Andi Pratama", "Rina Wati", "Joko Susilo",
		"Ayu Lestari", "Dodi Kusuma", "Eka Putri", "Fahri Hamzah", "Gita Savitri",
		"Hendra Gunawan", "Ika Sari", "Jamal Mirdad", "Kiki Fatmala", "Lukman Hakim",
		"Maya Septiana", "Nanda Pratama", "Oki Setiana", "Putri Dian", "Qori Maharani",
		"Rafi Ahmad", "Siska Saraswati", "Toni Setiawan", "Umi Kalsum", "Vina Panduwinata",
		"Wahyu Hidayat", "Xena Maharani", "Yudi Pratama", "Zaki Anwar", "Alifia Zahra",
		"Bagas Saputra", "Citra Kirana", "Dimas Anggara", "Elisa Novita", "Fikri Maulana",
		"Gali Rakasiwi", "Hani Hanifah", "Iqbal Ramadhan", "Jasmine Azzahra", "Kevin Sanjaya",
		"Larasati Dewi", "Miko Pambudi", "Nia Ramadhani", "Oscar Lawalata", "Puput Melati",
		"Reza Rahadian", "Sari Nila", "Tigor Siahaan", "Utari Maharani", "Vicky Prasetyo",
	}

	successCount := 0
	for i, name := range names {
		slug := strings.ToLower(strings.ReplaceAll(name, " ", "."))

		student := &model.Student{
			NISN:         fmt.Sprintf("%010d", 10000001+i),
			Name:         name,
			Email:        fmt.Sprintf("%s@example.sch.id", slug),
			PasswordHash: "ujianku123",
		}

		if err := studentService.Create(ctx, student); err != nil {
			fmt.Printf("Error creating student %s (NISN: %s): %v\n", student.Name, student.NISN, err)
			continue
		}
		successCount++
		if (i+1)%10 == 0 {
			fmt.Printf("Created %d students...\n", i+1)
		}
	}

	fmt.Printf("\nSeed completed! Successfully added %d/%d students.\n", successCount, len(names))
}
