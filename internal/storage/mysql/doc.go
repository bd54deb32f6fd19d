// Package mysql persists bookings, travel plans and the referral index.
//
// Each repository has a SQL implementation backed by go-sql-driver/mysql and a
// memory twin that keeps a JSON-lines journal under the runtime data directory,
// so the service runs without a database. Schema changes are applied from the
// embedded files in deploy/migrations.
package mysql
