// Package db instantiates record store drivers from the instance profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/mindmate/cognigate/internal/profile"
	"github.com/mindmate/cognigate/store"
	"github.com/mindmate/cognigate/store/db/postgres"
	"github.com/mindmate/cognigate/store/teststore"
)

// NewDriver creates a record store driver based on the profile.
func NewDriver(p *profile.Profile) (store.Driver, error) {
	switch p.Driver {
	case "postgres":
		return postgres.NewDB(p.DSN)
	case "memory":
		return teststore.New(), nil
	default:
		return nil, errors.Errorf("unknown record store driver %q", p.Driver)
	}
}
