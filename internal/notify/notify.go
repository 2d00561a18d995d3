package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// Notifier delivers in-app notifications. Fire-and-forget: failures are
// logged and swallowed, they never fail the operation that triggered them.
type Notifier interface {
	Add(ctx context.Context, userID, message string)
}

// Mailer sends user-facing email. Same fire-and-forget contract.
type Mailer interface {
	Send(to, subject, body string)
}

// Service persists notifications and fans them out over a redis list for
// any connected realtime consumer. Redis being down degrades to DB-only.
type Service struct {
	db    *sql.DB
	redis *redis.Client
}

func NewService(db *sql.DB, redisClient *redis.Client) *Service {
	return &Service{db: db, redis: redisClient}
}

func (s *Service) Add(ctx context.Context, userID, message string) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, message, created_at)
		VALUES ($1, $2, $3)`,
		userID, message, time.Now())
	if err != nil {
		log.Printf("[NOTIFY] failed to store notification for user %s: %v", userID, err)
	}

	if s.redis == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"userId": userID, "message": message})
	if err := s.redis.RPush(ctx, "notification_queue", payload).Err(); err != nil {
		log.Printf("[NOTIFY] failed to queue notification for user %s: %v", userID, err)
	}
}

// LogMailer is the default Mailer. Real delivery goes through the external
// email service; the core only needs somewhere to hand messages off to.
type LogMailer struct {
	from string
}

func NewLogMailer() *LogMailer {
	viper.SetDefault("mail.from", "no-reply@sellora.app")
	return &LogMailer{from: viper.GetString("mail.from")}
}

func (m *LogMailer) Send(to, subject, body string) {
	log.Printf("[MAIL] from=%s to=%s subject=%q: %s", m.from, to, subject, body)
}
