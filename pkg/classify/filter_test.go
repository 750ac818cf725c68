package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/normwatch/normwatch-oss/pkg/domain"
)

func pub(text string) domain.Publication {
	return domain.Publication{
		ID:               "boe-2026-100",
		SourceIdentifier: "BOE-A-2026-100",
		PublishedAt:      time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		RawText:          text,
	}
}

func TestFilter_MatchesKeywordCaseInsensitive(t *testing.T) {
	f := NewFilter([]string{"protección de menores", "protocolo"})

	assert.True(t, f.Relevant(pub("Nueva norma sobre PROTECCIÓN DE MENORES en el deporte")))
	assert.True(t, f.Relevant(pub("se actualiza el Protocolo de actuación")))
}

func TestFilter_NoKeywordNoMatch(t *testing.T) {
	f := NewFilter([]string{"protección de menores", "protocolo"})

	assert.False(t, f.Relevant(pub("Orden sobre subvenciones agrarias")))
	assert.False(t, f.Relevant(pub("")))
}

func TestFilter_IgnoresBlankKeywords(t *testing.T) {
	f := NewFilter([]string{"  ", "", "lopivi"})

	assert.False(t, f.Relevant(pub("texto cualquiera")))
	assert.True(t, f.Relevant(pub("aplicación de la LOPIVI")))
}
