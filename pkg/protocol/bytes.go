package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Bytes is a byte slice that travels as a JSON array of numbers, e.g.
// [12,250,3], instead of base64.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 2+len(b)*4)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("%w: byte array: %v", ErrInvalidPayload, err)
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("%w: byte %d out of range: %d", ErrInvalidPayload, i, n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}
