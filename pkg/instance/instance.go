package instance

import "github.com/angelmondragon/loyalty-core/pkg/env"

// GetID names the running process in logs and lock values. Heroku's DYNO wins over
// WORKER_ID so dyno restarts keep a readable identity.
func GetID() string {
	if id := env.Get("DYNO", ""); id != "" {
		return id
	}
	return env.Get("WORKER_ID", "local")
}
