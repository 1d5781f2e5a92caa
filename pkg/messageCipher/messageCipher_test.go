package messageCipher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/i5heu/cipherroom/pkg/primitives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newKey(t *testing.T) *primitives.SymmetricKey {
	t.Helper()
	key, err := primitives.GenerateSymmetricKey()
	require.NoError(t, err)
	return key
}

func TestMessageRoundTrip(t *testing.T) { // A
	key := newKey(t)
	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.String().Draw(rt, "text")

		sealed, err := Encrypt(text, key)
		if err != nil {
			rt.Fatalf("encrypt: %v", err)
		}
		got, err := Decrypt(sealed.IV, sealed.Data, key)
		if err != nil {
			rt.Fatalf("decrypt: %v", err)
		}
		if got != text {
			rt.Fatalf("got %q, want %q", got, text)
		}
	})
}

func TestIVUniqueness(t *testing.T) { // A
	key := newKey(t)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		sealed, err := Encrypt("same text", key)
		require.NoError(t, err)
		require.Len(t, sealed.IV, IVSize)
		seen[string(sealed.IV)] = struct{}{}
	}
	assert.Len(t, seen, 1000)
}

func TestTamperDetection(t *testing.T) { // A
	key := newKey(t)
	sealed, err := Encrypt("attack at dawn", key)
	require.NoError(t, err)

	for i := range sealed.Data {
		data := append([]byte(nil), sealed.Data...)
		data[i] ^= 0x01
		_, err := Decrypt(sealed.IV, data, key)
		require.ErrorIs(t, err, primitives.ErrDecryptionFailed, "data byte %d", i)
	}
	for i := range sealed.IV {
		iv := append([]byte(nil), sealed.IV...)
		iv[i] ^= 0x01
		_, err := Decrypt(iv, sealed.Data, key)
		require.ErrorIs(t, err, primitives.ErrDecryptionFailed, "iv byte %d", i)
	}
}

func TestDecryptWrongKey(t *testing.T) { // A
	sealed, err := Encrypt("hello", newKey(t))
	require.NoError(t, err)

	_, err = Decrypt(sealed.IV, sealed.Data, newKey(t))
	require.ErrorIs(t, err, primitives.ErrDecryptionFailed)
}

func TestPayloadRoundTrip(t *testing.T) { // A
	key := newKey(t)
	in := Payload{Text: "héllo 👋", SenderNickname: "alice"}

	sealed, err := SealPayload(in, key)
	require.NoError(t, err)
	out, err := OpenPayload(sealed.IV, sealed.Data, key)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestOpenPayloadRejectsNonJSON(t *testing.T) { // A
	key := newKey(t)
	sealed, err := Encrypt("plain words", key)
	require.NoError(t, err)

	_, err = OpenPayload(sealed.IV, sealed.Data, key)
	require.ErrorIs(t, err, primitives.ErrDecryptionFailed)
}

func TestDecryptBatchIsolation(t *testing.T) { // A
	key := newKey(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	entries := make([]Entry, 5)
	for i := range entries {
		sealed, err := SealPayload(Payload{Text: fmt.Sprintf("msg %d", i+1), SenderNickname: "bob"}, key)
		require.NoError(t, err)
		entries[i] = Entry{
			ID:        fmt.Sprintf("m%d", i+1),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			IV:        sealed.IV,
			Data:      sealed.Data,
		}
	}
	entries[2].Data[0] ^= 0xff

	res := DecryptBatch(context.Background(), entries, key, nil)

	require.Len(t, res.Messages, 4)
	assert.Equal(t, 1, res.Skipped)
	wantIDs := []string{"m1", "m2", "m4", "m5"}
	for i, m := range res.Messages {
		assert.Equal(t, wantIDs[i], m.ID)
		assert.Equal(t, "bob", m.Payload.SenderNickname)
	}
	assert.Equal(t, "msg 4", res.Messages[2].Payload.Text)
}

func TestDecryptBatchEmpty(t *testing.T) { // A
	res := DecryptBatch(context.Background(), nil, newKey(t), nil)
	assert.Empty(t, res.Messages)
	assert.Zero(t, res.Skipped)
}

func TestDecryptBatchLargeKeepsOrder(t *testing.T) { // A
	key := newKey(t)
	entries := make([]Entry, 3*parallelThreshold)
	for i := range entries {
		sealed, err := SealPayload(Payload{Text: fmt.Sprintf("msg %d", i), SenderNickname: "carol"}, key)
		require.NoError(t, err)
		entries[i] = Entry{ID: fmt.Sprintf("m%d", i), IV: sealed.IV, Data: sealed.Data}
	}
	entries[5].IV[0] ^= 0xff
	entries[40].Data[3] ^= 0xff

	res := DecryptBatch(context.Background(), entries, key, nil)

	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Messages, len(entries)-2)
	prev := -1
	for _, m := range res.Messages {
		var n int
		_, err := fmt.Sscanf(m.ID, "m%d", &n)
		require.NoError(t, err)
		assert.Greater(t, n, prev)
		assert.Equal(t, fmt.Sprintf("msg %d", n), m.Payload.Text)
		prev = n
	}
}
