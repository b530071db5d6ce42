package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema matches the tables created by gormstore.Migrate so either backend can serve the
// same database.
const Schema = `
create table if not exists rooms (
	room_id text primary key,
	name text not null,
	capacity bigint not null,
	points_per_30_min bigint not null,
	min_duration_minutes bigint not null,
	max_duration_minutes bigint not null,
	active boolean not null,
	created_at timestamptz not null default now(),
	updated_at timestamptz not null default now()
);

create table if not exists bookings (
	booking_id text primary key,
	room_id text not null,
	account_id text not null,
	day varchar(10) not null,
	start_minute bigint not null,
	end_minute bigint not null,
	status varchar(16) not null,
	axis varchar(16) not null,
	points_charged bigint not null,
	title text not null,
	description text not null default '',
	idempotency_key text,
	created_at timestamptz not null,
	cancelled_at timestamptz
);
create index if not exists idx_bookings_room_day on bookings(room_id, day, status);
create index if not exists idx_bookings_account_day on bookings(account_id, day);
create unique index if not exists idx_bookings_account_idempotency on bookings(account_id, idempotency_key);

create table if not exists account_balances (
	account_id text primary key,
	personal_points bigint not null default 0 constraint chk_balances_personal_nonnegative check (personal_points >= 0),
	team_points bigint not null default 0 constraint chk_balances_team_nonnegative check (team_points >= 0),
	updated_at timestamptz not null default now()
);

create table if not exists point_transactions (
	seq bigserial primary key,
	transaction_id text not null unique,
	account_id text not null,
	kind varchar(16) not null,
	axis varchar(16) not null,
	delta bigint not null,
	balance_after bigint not null,
	booking_id text,
	description text not null default '',
	metadata jsonb not null default '{}'::jsonb,
	created_at timestamptz not null
);
create index if not exists idx_transactions_account_created on point_transactions(account_id, created_at);
create index if not exists idx_point_transactions_booking_id on point_transactions(booking_id);

create table if not exists slot_locks (
	room_id text not null,
	day varchar(10) not null,
	locked_at timestamptz not null default now(),
	primary key (room_id, day)
);
`

// EnsureSchema creates the tables when they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}
