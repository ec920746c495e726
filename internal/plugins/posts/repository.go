package posts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/signethq/signet/internal/apperror"
)

// Repository defines the data access contract for posts.
type Repository interface {
	Create(ctx context.Context, post *Post) error
	FindByID(ctx context.Context, id string) (*Post, error)
	List(ctx context.Context, skip, take int) ([]ListItem, error)

	// SetSignature writes the signature only if the post is still unsigned.
	// Returns apperror.BadRequest if the post was signed concurrently.
	SetSignature(ctx context.Context, id, signature string) error
}

// repository implements Repository with hand-written MariaDB queries.
type repository struct {
	db *sql.DB
}

// NewRepository creates a post repository backed by the given DB pool.
func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// Create inserts a new post row.
func (r *repository) Create(ctx context.Context, post *Post) error {
	query := `INSERT INTO posts (id, user_id, message, image, signature, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		post.ID,
		post.UserID,
		post.Message,
		post.Image,
		post.Signature,
		post.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting post: %w", err)
	}

	return nil
}

// FindByID retrieves a post by ID.
// Returns apperror.NotFound if no post exists with this ID.
func (r *repository) FindByID(ctx context.Context, id string) (*Post, error) {
	query := `SELECT id, user_id, message, image, signature, created_at
	          FROM posts WHERE id = ?`

	post := &Post{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&post.ID,
		&post.UserID,
		&post.Message,
		&post.Image,
		&post.Signature,
		&post.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("post not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying post: %w", err)
	}

	return post, nil
}

// List returns posts newest-first with the author's name joined in.
func (r *repository) List(ctx context.Context, skip, take int) ([]ListItem, error) {
	query := `SELECT p.id, p.user_id, p.message, p.image, p.signature, p.created_at, u.name
	          FROM posts p
	          JOIN users u ON u.id = p.user_id
	          ORDER BY p.created_at DESC
	          LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, take, skip)
	if err != nil {
		return nil, fmt.Errorf("listing posts: %w", err)
	}
	defer rows.Close()

	items := []ListItem{}
	for rows.Next() {
		var item ListItem
		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.Message,
			&item.Image,
			&item.Signature,
			&item.CreatedAt,
			&item.AuthorName,
		); err != nil {
			return nil, fmt.Errorf("scanning post row: %w", err)
		}
		item.Signed = item.Signature != nil
		items = append(items, item)
	}

	return items, rows.Err()
}

// SetSignature stores the signature for an unsigned post. The WHERE clause
// enforces write-once at the database layer, so two concurrent sign
// requests cannot both succeed.
func (r *repository) SetSignature(ctx context.Context, id, signature string) error {
	query := `UPDATE posts SET signature = ? WHERE id = ? AND signature IS NULL`

	result, err := r.db.ExecContext(ctx, query, signature, id)
	if err != nil {
		return fmt.Errorf("setting signature: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewBadRequest("Post is already signed.")
	}

	return nil
}
