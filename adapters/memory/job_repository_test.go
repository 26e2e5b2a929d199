package memory

import (
	"testing"

	"github.com/satriahrh/azscribe/domain/repositories"
	"github.com/satriahrh/azscribe/domain/repositories/repotest"
)

func TestJobRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repositories.TranscriptionJobRepository {
		return NewJobRepository()
	})
}
