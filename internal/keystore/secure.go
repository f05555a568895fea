package keystore

// SecureBytes wraps sensitive byte data with explicit zeroing capability,
// so private scalars and seeds can be cleared from memory once a Signer
// has consumed them.
type SecureBytes struct {
	data []byte
}

// NewSecureBytes creates a new SecureBytes wrapper around the given data.
// The caller should call Zero() when the data is no longer needed.
func NewSecureBytes(data []byte) *SecureBytes {
	return &SecureBytes{data: data}
}

// Bytes returns the underlying byte slice. The returned slice shares
// memory with the SecureBytes, so zeroing the SecureBytes also zeroes it.
func (s *SecureBytes) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.data
}

// Zero clears every byte in the underlying slice. Safe to call multiple
// times.
func (s *SecureBytes) Zero() {
	if s == nil || s.data == nil {
		return
	}
	for i := range s.data {
		s.data[i] = 0
	}
}

// Len returns the length of the underlying data.
func (s *SecureBytes) Len() int {
	if s == nil || s.data == nil {
		return 0
	}
	return len(s.data)
}
