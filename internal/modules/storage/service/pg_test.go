package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"market_ingest/internal/models"
	"market_ingest/pkg/db"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPgStoreNotConfigured(t *testing.T) {
	store := NewPgStore(db.NewPgTxManager(nil))

	_, err := store.UpsertArticle(context.Background(), &models.Article{URLKey: "https://x.com/a"})
	if models.KindOf(err) != models.KindFatal {
		t.Errorf("KindOf = %s, want fatal_precondition", models.KindOf(err))
	}
	if err := store.Ping(context.Background()); !errors.Is(err, db.ErrNotConfigured) {
		t.Errorf("Ping() = %v", err)
	}
}

func TestClassifyPgErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "articles_url_key_key"}, models.KindConstraint},
		{"check violation", &pgconn.PgError{Code: "23514"}, models.KindPermanent},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, models.KindTransient},
		{"too many connections", &pgconn.PgError{Code: "53300"}, models.KindTransient},
		{"syntax error", &pgconn.PgError{Code: "42601"}, models.KindPermanent},
		{"network", errors.New("connection reset by peer"), models.KindTransient},
		{"cancelled", context.Canceled, models.KindCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := models.KindOf(classifyPgErr("op", tt.err)); got != tt.want {
				t.Errorf("KindOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range []string{"articles", "article_tickers", "market_candles", "companies", "ingestion_watermarks"} {
		if !strings.Contains(Schema, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("schema is missing table %s", table)
		}
	}
}
