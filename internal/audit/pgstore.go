package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore writes audit entries to the audit_logs table.
type PGStore struct {
	Pool *pgxpool.Pool
}

// Insert implements Store.
func (s PGStore) Insert(ctx context.Context, e Entry) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO audit_logs
    (id, actor_kind, actor_id, action, resource_type, resource_id, method, path, route, status, ip, user_agent, request_id, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID, e.ActorKind, nullText(e.ActorID), e.Action, e.ResourceType, nullText(e.ResourceID),
		e.Method, e.Path, nullText(e.Route), e.Status, nullText(e.IP), nullText(e.UserAgent),
		nullText(e.RequestID), []byte(e.Metadata), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// List implements Store.
func (s PGStore) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id::text, actor_kind, actor_id, action, resource_type, resource_id, method, path,
       route, status, ip, user_agent, request_id, metadata, created_at
FROM audit_logs ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e                                          Entry
			actorID, resourceID, route, ip, ua, reqID pgtype.Text
			metadata                                   []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorKind, &actorID, &e.Action, &e.ResourceType, &resourceID, &e.Method, &e.Path,
			&route, &e.Status, &ip, &ua, &reqID, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		e.ActorID, e.ResourceID, e.Route = actorID.String, resourceID.String, route.String
		e.IP, e.UserAgent, e.RequestID = ip.String, ua.String, reqID.String
		e.Metadata = metadata
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullText(v string) pgtype.Text {
	if v == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: v, Valid: true}
}
