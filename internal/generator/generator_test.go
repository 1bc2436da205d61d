package generator

import (
	"math/big"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "keymint/internal/errors"
)

func validSpec() Spec {
	return Spec{
		Name:        "default",
		Charset:     "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789",
		Chunks:      4,
		ChunkLength: 4,
		Separator:   "-",
	}
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Spec)
		wantErr bool
	}{
		{name: "valid", mutate: func(s *Spec) {}, wantErr: false},
		{name: "empty name", mutate: func(s *Spec) { s.Name = "  " }, wantErr: true},
		{name: "empty charset", mutate: func(s *Spec) { s.Charset = "" }, wantErr: true},
		{name: "zero chunks", mutate: func(s *Spec) { s.Chunks = 0 }, wantErr: true},
		{name: "zero chunk length", mutate: func(s *Spec) { s.ChunkLength = 0 }, wantErr: true},
		{name: "negative expiry", mutate: func(s *Spec) { s.ExpiresIn = -1 }, wantErr: true},
		{name: "negative activation cap", mutate: func(s *Spec) { s.TimesActivatedMax = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)
			err := spec.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMaxCombinations(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want int64
	}{
		{
			name: "two letters one slot",
			spec: Spec{Name: "t", Charset: "AB", Chunks: 1, ChunkLength: 1},
			want: 2,
		},
		{
			name: "duplicates in charset do not widen the space",
			spec: Spec{Name: "t", Charset: "AABB", Chunks: 1, ChunkLength: 2},
			want: 4,
		},
		{
			name: "chunks multiply the exponent",
			spec: Spec{Name: "t", Charset: "ABC", Chunks: 2, ChunkLength: 2},
			want: 81,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Zero(t, MaxCombinations(tt.spec).Cmp(big.NewInt(tt.want)))
		})
	}
}

func TestGenerateOneFormat(t *testing.T) {
	spec := Spec{
		Name:        "formatted",
		Charset:     "ABC",
		Chunks:      2,
		ChunkLength: 3,
		Separator:   "-",
		Prefix:      "PRE-",
		Suffix:      "-SUF",
	}
	pattern := regexp.MustCompile(`^PRE\-[ABC]{3}\-[ABC]{3}\-SUF$`)

	for i := 0; i < 100; i++ {
		key, err := GenerateOne(spec)
		require.NoError(t, err)
		assert.Regexp(t, pattern, key)
	}
}

func TestGenerateOneNoSeparatorAfterLastChunk(t *testing.T) {
	spec := Spec{Name: "t", Charset: "X", Chunks: 3, ChunkLength: 2, Separator: "/"}
	key, err := GenerateOne(spec)
	require.NoError(t, err)
	assert.Equal(t, "XX/XX/XX", key)
}

func TestGenerateBatchUniqueness(t *testing.T) {
	spec := validSpec()
	batch, err := GenerateBatch(500, spec)
	require.NoError(t, err)
	require.Len(t, batch, 500)

	seen := make(map[string]struct{}, len(batch))
	for _, key := range batch {
		_, dup := seen[key]
		assert.False(t, dup, "duplicate key %q in batch", key)
		seen[key] = struct{}{}
	}
}

func TestGenerateBatchSorted(t *testing.T) {
	batch, err := GenerateBatch(50, validSpec())
	require.NoError(t, err)
	for i := 1; i < len(batch); i++ {
		assert.LessOrEqual(t, batch[i-1], batch[i])
	}
}

func TestGenerateBatchCombinatorialGuard(t *testing.T) {
	spec := Spec{Name: "tiny", Charset: "AB", Chunks: 1, ChunkLength: 1}

	_, err := GenerateBatch(3, spec)
	assert.ErrorIs(t, err, apperrors.ErrKeyspaceExhausted)

	// At the bound the full key space must come back.
	batch, err := GenerateBatch(2, spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, batch)
}

func TestGenerateBatchExhaustsSmallSpace(t *testing.T) {
	// 16 possible strings; requesting all of them forces the deficit-fill
	// recursion to run until every single one has been produced.
	spec := Spec{Name: "small", Charset: "AB", Chunks: 2, ChunkLength: 2, Separator: "-"}
	batch, err := GenerateBatch(16, spec)
	require.NoError(t, err)
	assert.Len(t, batch, 16)
}

func TestGenerateBatchRejectsZeroAmount(t *testing.T) {
	_, err := GenerateBatch(0, validSpec())
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
