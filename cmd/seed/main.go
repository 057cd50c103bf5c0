package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shinyyama/rental-backend/internal/config"
	"github.com/shinyyama/rental-backend/internal/convid"
	"github.com/shinyyama/rental-backend/internal/db"
	"github.com/shinyyama/rental-backend/internal/model"
	"gorm.io/gorm"
)

type seedUser struct {
	Name  string
	Email string
}

type seedProperty struct {
	OwnerIdx    int
	Title       string
	Address     string
	City        string
	MonthlyRent uint
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

func run() error {
	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	canSeed, err := shouldSeed(ctx, gdb)
	if err != nil {
		return err
	}
	if !canSeed {
		log.Printf("properties already exist; skipping seed (set FORCE_SEED=true to override)")
		return nil
	}

	var convID string
	err = gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{"messages", "properties", "users"} {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		users := make([]model.User, 0, len(seedUsers))
		for _, u := range seedUsers {
			users = append(users, model.User{Name: u.Name, Email: u.Email})
		}
		if err := tx.Create(&users).Error; err != nil {
			return fmt.Errorf("insert users: %w", err)
		}

		props := make([]model.Property, 0, len(seedProperties))
		for i, p := range seedProperties {
			img := picsumURL(p.City, i+1)
			props = append(props, model.Property{
				OwnerID:     users[p.OwnerIdx].ID,
				Title:       p.Title,
				Address:     p.Address,
				City:        p.City,
				MonthlyRent: p.MonthlyRent,
				ImageURL:    &img,
			})
		}
		if err := tx.Create(&props).Error; err != nil {
			return fmt.Errorf("insert properties: %w", err)
		}

		owner, tenant, flat := users[0], users[2], props[0]
		msgs := buildConversation(flat.ID, tenant.ID, owner.ID)
		if err := tx.Omit("Sender", "ReplyTo").Create(&msgs).Error; err != nil {
			return fmt.Errorf("insert messages: %w", err)
		}
		convID = convid.Derive(flat.ID, tenant.ID, owner.ID)
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("seeded %d users, %d properties; demo conversation %s", len(seedUsers), len(seedProperties), convID)
	return nil
}

var seedUsers = []seedUser{
	{Name: "Haruto Sato", Email: "haruto@example.com"},
	{Name: "Yui Tanaka", Email: "yui@example.com"},
	{Name: "Ren Suzuki", Email: "ren@example.com"},
	{Name: "Aoi Kobayashi", Email: "aoi@example.com"},
}

var seedProperties = []seedProperty{
	{OwnerIdx: 0, Title: "Sunny 1LDK near Shibuya", Address: "2-14 Dogenzaka", City: "Tokyo", MonthlyRent: 168000},
	{OwnerIdx: 0, Title: "Quiet studio by the river", Address: "5-3 Kiyosumi", City: "Tokyo", MonthlyRent: 92000},
	{OwnerIdx: 1, Title: "Family 3LDK with garden", Address: "1-8 Shimogamo", City: "Kyoto", MonthlyRent: 145000},
	{OwnerIdx: 1, Title: "Compact room near Umeda", Address: "3-1 Chayamachi", City: "Osaka", MonthlyRent: 78000},
}

// buildConversation returns a short exchange spread over the last hour so
// the inbox has an unread message for the owner.
func buildConversation(propertyID, tenantID, ownerID uint64) []model.Message {
	start := time.Now().Add(-time.Hour)
	read := start.Add(10 * time.Minute)
	lines := []struct {
		from, to uint64
		body     string
	}{
		{tenantID, ownerID, "Hi! I'm interested in this property."},
		{ownerID, tenantID, "Thanks for reaching out. It is available from next month."},
		{tenantID, ownerID, "Could I book a viewing this weekend?"},
	}
	out := make([]model.Message, 0, len(lines))
	for i, l := range lines {
		m := model.Message{
			PropertyID: propertyID,
			SenderID:   l.from,
			ReceiverID: l.to,
			Body:       l.body,
			Kind:       model.KindText,
			CreatedAt:  start.Add(time.Duration(i) * 5 * time.Minute),
		}
		if i < len(lines)-1 {
			m.ReadAt = &read
		}
		out = append(out, m)
	}
	return out
}

func shouldSeed(ctx context.Context, gdb *gorm.DB) (bool, error) {
	var cnt int64
	if err := gdb.WithContext(ctx).Model(&model.Property{}).Count(&cnt).Error; err != nil {
		return false, fmt.Errorf("count properties: %w", err)
	}
	if cnt == 0 {
		return true, nil
	}
	return strings.EqualFold(os.Getenv("FORCE_SEED"), "true"), nil
}

func picsumURL(city string, idx int) string {
	return fmt.Sprintf("https://picsum.photos/seed/%s-%d/800/600", strings.ToLower(city), idx)
}
