package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukkan-app/dukkan/internal/store"
)

const notificationColumns = "id, title, title_en, body, body_en, status, sent, failed, created_at, sent_at"

func scanNotification(row scanner) (store.Notification, error) {
	var (
		n      store.Notification
		sentAt sql.NullTime
	)
	if err := row.Scan(&n.ID, &n.Title, &n.TitleEn, &n.Body, &n.BodyEn, &n.Status, &n.Sent, &n.Failed, &n.CreatedAt, &sentAt); err != nil {
		return store.Notification{}, err
	}
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	return n, nil
}

func nullTime(n store.Notification) sql.NullTime {
	if n.SentAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *n.SentAt, Valid: true}
}

func (s *Store) CreateNotification(ctx context.Context, n store.Notification) (store.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = store.NotificationDraft
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO notifications ("+notificationColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		n.ID, n.Title, n.TitleEn, n.Body, n.BodyEn, string(n.Status), n.Sent, n.Failed, n.CreatedAt, nullTime(n))
	if err != nil {
		return store.Notification{}, conflict(err, "notification", n.ID)
	}
	return n, nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (store.Notification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx, "SELECT "+notificationColumns+" FROM notifications WHERE id = ?", id))
	if err != nil {
		return store.Notification{}, notFound(err, "notification", id)
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context) ([]store.Notification, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+notificationColumns+" FROM notifications ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	list := []store.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

func (s *Store) UpdateNotification(ctx context.Context, n store.Notification) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET title = ?, title_en = ?, body = ?, body_en = ?, status = ?, sent = ?, failed = ?, sent_at = ? WHERE id = ?",
		n.Title, n.TitleEn, n.Body, n.BodyEn, string(n.Status), n.Sent, n.Failed, nullTime(n), n.ID)
	if err != nil {
		return fmt.Errorf("updating notification %s: %w", n.ID, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		if _, err := s.GetNotification(ctx, n.ID); err != nil {
			return err
		}
	}
	return nil
}
