package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/zhouzirui/polyglot-chat/backend/internal/store"
)

func TestTranslatedQueryMatchesLanguageCaseInsensitively(t *testing.T) {
	filter, opts := translatedQuery("c1", "pt-br", store.Page{Limit: 10, Offset: 5})

	assert.Equal(t, bson.M{"chat": "c1", "targetLanguage": "pt-br"}, filter)
	require.NotNil(t, opts.Collation)
	assert.Equal(t, 2, opts.Collation.Strength)
	assert.Equal(t, int64(10), *opts.Limit)
	assert.Equal(t, int64(5), *opts.Skip)
}

func TestTranslatedQueryWithoutLanguageKeepsDefaultCollation(t *testing.T) {
	filter, opts := translatedQuery("c1", "", store.Page{})

	assert.Equal(t, bson.M{"chat": "c1"}, filter)
	assert.Nil(t, opts.Collation)
}
