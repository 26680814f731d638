package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the full DDL for the booking core. The partial unique index on
// appointments is the storage-level guard behind the at-most-one-active rule,
// and the (center_id, sheet_date) constraint resolves the generator's
// existence-check race.
const Schema = `
CREATE TABLE IF NOT EXISTS centers (
	id                    uuid PRIMARY KEY,
	name                  text NOT NULL,
	pincode               text NOT NULL,
	address               text NOT NULL,
	city                  text NOT NULL,
	state                 text NOT NULL,
	vaccine               text NOT NULL,
	is_active             boolean NOT NULL DEFAULT true,
	slot_duration_minutes int NOT NULL,
	slot_max_appointments int NOT NULL,
	open_time             text NOT NULL,
	close_time            text NOT NULL,
	created_at            timestamptz NOT NULL DEFAULT now(),
	updated_at            timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_centers_location ON centers (pincode, city, state);

CREATE TABLE IF NOT EXISTS citizens (
	id                 uuid PRIMARY KEY,
	national_id        text NOT NULL,
	name               text NOT NULL,
	phone              text NOT NULL,
	pincode            text NOT NULL,
	vaccination_status int NOT NULL DEFAULT 0,
	vaccine            text,
	created_at         timestamptz NOT NULL DEFAULT now(),
	updated_at         timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_citizens_national_id ON citizens (national_id);
CREATE INDEX IF NOT EXISTS idx_citizens_phone ON citizens (phone);

CREATE TABLE IF NOT EXISTS slot_sheets (
	id         uuid PRIMARY KEY,
	center_id  uuid NOT NULL REFERENCES centers (id),
	sheet_date date NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	UNIQUE (center_id, sheet_date)
);

CREATE TABLE IF NOT EXISTS sheet_slots (
	id                 uuid PRIMARY KEY,
	sheet_id           uuid NOT NULL REFERENCES slot_sheets (id),
	time_label         text NOT NULL,
	total_capacity     int NOT NULL,
	remaining_capacity int NOT NULL CHECK (remaining_capacity >= 0),
	total_vaccinated   int NOT NULL DEFAULT 0,
	status             text NOT NULL DEFAULT 'available',
	canceled_at        timestamptz,
	action_by          uuid,
	UNIQUE (sheet_id, time_label)
);

CREATE TABLE IF NOT EXISTS appointments (
	id               uuid PRIMARY KEY,
	national_id      text NOT NULL,
	sheet_id         uuid NOT NULL REFERENCES slot_sheets (id),
	time_label       text NOT NULL,
	appointment_date date NOT NULL,
	dose             int NOT NULL,
	vaccine          text NOT NULL,
	citizen_id       uuid NOT NULL REFERENCES citizens (id),
	remark           text,
	action_by        uuid,
	vaccinated_at    timestamptz,
	canceled_at      timestamptz,
	created_at       timestamptz NOT NULL DEFAULT now(),
	updated_at       timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_appointments_citizen_sheet ON appointments (national_id, sheet_id);
CREATE UNIQUE INDEX IF NOT EXISTS uq_appointments_one_active
	ON appointments (national_id)
	WHERE vaccinated_at IS NULL AND canceled_at IS NULL;

CREATE TABLE IF NOT EXISTS slot_reservations (
	id             uuid PRIMARY KEY,
	slot_id        uuid NOT NULL REFERENCES sheet_slots (id),
	citizen_id     uuid NOT NULL REFERENCES citizens (id),
	appointment_id uuid NOT NULL UNIQUE REFERENCES appointments (id),
	vaccinated_at  timestamptz
);
CREATE INDEX IF NOT EXISTS idx_slot_reservations_slot ON slot_reservations (slot_id);

CREATE TABLE IF NOT EXISTS generator_runs (
	id             bigserial PRIMARY KEY,
	name           text NOT NULL,
	execution_time timestamptz NOT NULL,
	status         text NOT NULL DEFAULT 'START',
	detail         text,
	created_at     timestamptz NOT NULL DEFAULT now()
);
`

// ApplySchema creates all tables and indexes if they do not exist yet.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
