package internal

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// errBadOrgURL means the user-supplied URL carries no recognizable
	// organization ID. Mapped to a 422 by the API layer.
	errBadOrgURL = errors.New("не удалось определить идентификатор организации из ссылки")

	// errSyncRunning means another process holds the source's sync lock.
	// Mapped to a 409 by the API layer.
	errSyncRunning = errors.New("синхронизация уже запущена")
)

// statusErr represents an upstream HTTP status. The engine never surfaces
// these to callers; they show up in debug logs while the pagination stopping
// rules decide what to do with the response.
type statusErr int

func (s statusErr) Error() string {
	return fmt.Sprintf("upstream status %d %s", int(s), http.StatusText(int(s)))
}

// IsValidationErr reports whether err should surface as a 422.
func IsValidationErr(err error) bool {
	return errors.Is(err, errBadOrgURL)
}

// IsLockedErr reports whether err should surface as a 409.
func IsLockedErr(err error) bool {
	return errors.Is(err, errSyncRunning)
}
