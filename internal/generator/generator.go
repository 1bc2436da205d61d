package generator

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strings"

	apperrors "keymint/internal/errors"
)

// Spec is a reusable license key template. Specs are persisted by name and
// referenced by products; the zero value is not usable, construct via the
// store or validate explicitly.
type Spec struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Charset           string `json:"charset"`
	Chunks            int    `json:"chunks"`
	ChunkLength       int    `json:"chunk_length"`
	Separator         string `json:"separator"`
	Prefix            string `json:"prefix"`
	Suffix            string `json:"suffix"`
	ExpiresIn         int    `json:"expires_in"`
	TimesActivatedMax int    `json:"times_activated_max"`
}

// Validate checks the structural preconditions for generation.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: generator name is required", apperrors.ErrValidation)
	}
	if len(s.Charset) == 0 {
		return fmt.Errorf("%w: charset must not be empty", apperrors.ErrValidation)
	}
	if s.Chunks < 1 {
		return fmt.Errorf("%w: chunks must be at least 1, got %d", apperrors.ErrValidation, s.Chunks)
	}
	if s.ChunkLength < 1 {
		return fmt.Errorf("%w: chunk length must be at least 1, got %d", apperrors.ErrValidation, s.ChunkLength)
	}
	if s.ExpiresIn < 0 {
		return fmt.Errorf("%w: expires_in must not be negative, got %d", apperrors.ErrValidation, s.ExpiresIn)
	}
	if s.TimesActivatedMax < 0 {
		return fmt.Errorf("%w: times_activated_max must not be negative, got %d", apperrors.ErrValidation, s.TimesActivatedMax)
	}
	return nil
}

// uniqueRunes returns the distinct runes of the charset in first-seen order.
// Duplicate characters in the configured charset are tolerated but do not
// widen the key space, so capacity is computed on the distinct set.
func uniqueRunes(charset string) []rune {
	seen := make(map[rune]struct{}, len(charset))
	out := make([]rune, 0, len(charset))
	for _, r := range charset {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// MaxCombinations returns the number of distinct strings the spec can
// produce: |unique(charset)| ^ (chunks * chunkLength). The result is exact;
// big.Int is used because even modest templates overflow int64.
func MaxCombinations(spec Spec) *big.Int {
	u := int64(len(uniqueRunes(spec.Charset)))
	exp := int64(spec.Chunks) * int64(spec.ChunkLength)
	return new(big.Int).Exp(big.NewInt(u), big.NewInt(exp), nil)
}

// GenerateOne builds a single formatted key string from the spec. Randomness
// comes from crypto/rand; the function has no other side effects.
func GenerateOne(spec Spec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	alphabet := uniqueRunes(spec.Charset)
	max := big.NewInt(int64(len(alphabet)))

	var b strings.Builder
	b.WriteString(spec.Prefix)
	for chunk := 0; chunk < spec.Chunks; chunk++ {
		if chunk > 0 {
			b.WriteString(spec.Separator)
		}
		for i := 0; i < spec.ChunkLength; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("read random index: %w", err)
			}
			b.WriteRune(alphabet[n.Int64()])
		}
	}
	b.WriteString(spec.Suffix)
	return b.String(), nil
}

// GenerateBatch produces exactly amount distinct key strings, sorted
// lexicographically. It fails up front with ErrKeyspaceExhausted when the
// request exceeds the spec's combinatorial capacity, before generating
// anything.
func GenerateBatch(amount int, spec Spec) ([]string, error) {
	if amount < 1 {
		return nil, fmt.Errorf("%w: batch amount must be at least 1, got %d", apperrors.ErrValidation, amount)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if MaxCombinations(spec).Cmp(big.NewInt(int64(amount))) < 0 {
		return nil, fmt.Errorf("%w: requested %d keys but charset %q with %d chunk(s) of %d can produce at most %s",
			apperrors.ErrKeyspaceExhausted, amount, spec.Charset, spec.Chunks, spec.ChunkLength, MaxCombinations(spec).String())
	}

	seen := make(map[string]struct{}, amount)
	if err := fill(amount, spec, seen); err != nil {
		return nil, err
	}

	batch := make([]string, 0, len(seen))
	for key := range seen {
		batch = append(batch, key)
	}
	sort.Strings(batch)
	return batch, nil
}

// fill generates need candidates, keeps the unseen ones, and recurses on the
// deficit. Termination is guaranteed by the capacity check in GenerateBatch:
// the target count never exceeds the key space, so every round makes
// progress toward it with probability 1.
func fill(need int, spec Spec, seen map[string]struct{}) error {
	before := len(seen)
	for i := 0; i < need; i++ {
		key, err := GenerateOne(spec)
		if err != nil {
			return err
		}
		seen[key] = struct{}{}
	}
	deficit := need - (len(seen) - before)
	if deficit > 0 {
		return fill(deficit, spec, seen)
	}
	return nil
}
