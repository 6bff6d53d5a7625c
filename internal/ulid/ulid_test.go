package ulid

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	id := Generate()
	assert.False(t, id.IsZero(), "generated ULID should not be zero")
	assert.Empty(t, id.Prefix())
	assert.True(t, Validate(id.String()))
}

func TestGenerateWithPrefix(t *testing.T) {
	id := GenerateWithPrefix(PrefixChat)
	assert.Equal(t, PrefixChat, id.Prefix())
	assert.Contains(t, id.String(), PrefixChat+PrefixSeparator)
	assert.True(t, Validate(id.String()))
}

func TestParse(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		original := Generate()
		parsed, err := Parse(original.RawString())
		require.NoError(t, err)
		assert.Equal(t, 0, original.Compare(parsed))
		assert.Empty(t, parsed.Prefix())
	})

	t.Run("prefixed", func(t *testing.T) {
		original := GenerateWithPrefix(PrefixMessage)
		parsed, err := Parse(original.String())
		require.NoError(t, err)
		assert.Equal(t, PrefixMessage, parsed.Prefix())
		assert.Equal(t, original.String(), parsed.String())
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := Parse("not-a-ulid")
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	assert.True(t, Validate(Generate().String()))
	assert.True(t, Validate(ChatID()))
	assert.False(t, Validate("garbage"))
	assert.False(t, Validate(""))
}

func TestOrdering(t *testing.T) {
	// ULIDs minted later must sort after earlier ones
	earlier := NewWithTime(time.Now().Add(-time.Minute))
	later := NewWithTime(time.Now())
	assert.Equal(t, -1, earlier.Compare(later))
	assert.Equal(t, 1, later.Compare(earlier))
}

func TestJSONRoundTrip(t *testing.T) {
	original := GenerateWithPrefix(PrefixVault)

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded ULID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.String(), decoded.String())
	assert.Equal(t, PrefixVault, decoded.Prefix())
}

func TestSQLRoundTrip(t *testing.T) {
	original := GenerateWithPrefix(PrefixPersona)

	value, err := original.Value()
	require.NoError(t, err)

	var scanned ULID
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, original.String(), scanned.String())

	var fromBytes ULID
	require.NoError(t, fromBytes.Scan([]byte(original.String())))
	assert.Equal(t, original.String(), fromBytes.String())

	assert.Error(t, scanned.Scan(42))
}

func TestDomainHelpers(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() string
		prefix string
	}{
		{"chat", ChatID, PrefixChat},
		{"message", MessageID, PrefixMessage},
		{"persona", PersonaID, PrefixPersona},
		{"vault", VaultID, PrefixVault},
		{"memory", MemoryID, PrefixMemory},
		{"write", WriteID, PrefixWrite},
		{"subscription", SubscriptionID, PrefixSubscription},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.gen()
			parsed, err := Parse(id)
			require.NoError(t, err)
			assert.Equal(t, tt.prefix, parsed.Prefix())
		})
	}
}
