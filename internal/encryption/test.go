package encryption

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync"

	"loanflow/internal/loan"
)

// maskHeader opens every object written by MaskEncryptor.
var maskHeader = []byte("LFMASK01")

// maskKey is XORed over the document body.
var maskKey = []byte("loanflow-test-mask")

// TestEncryptor is a keyless encryptor for tests and local runs. Output is
// a fixed header followed by the body XOR-masked with a repeating key, so
// stored objects never hold the uploaded bytes verbatim.
type TestEncryptor struct {
	mu          sync.Mutex
	setupCalled bool
	encrypted   int
	err         error
}

var _ loan.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a new TestEncryptor.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

// FailWith makes every later Encrypt call return err. A nil err clears it.
func (e *TestEncryptor) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Encrypted returns how many documents were encrypted.
func (e *TestEncryptor) Encrypted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encrypted
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setupCalled = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	e.mu.Lock()
	err := e.err
	if err == nil {
		e.encrypted++
	}
	e.mu.Unlock()
	if err != nil {
		return err
	}

	if _, err := w.Write(maskHeader); err != nil {
		return fmt.Errorf("writing mask header: %w", err)
	}
	if err := mask(r, w); err != nil {
		return fmt.Errorf("masking data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (loan.DecryptionContext, error) {
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptionContext reverses TestEncryptor.
type TestDecryptionContext struct{}

var _ loan.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(maskHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading mask header: %w", err)
	}
	if !bytes.Equal(header, maskHeader) {
		return fmt.Errorf("invalid mask header")
	}
	if err := mask(r, w); err != nil {
		return fmt.Errorf("unmasking data: %w", err)
	}
	return nil
}

// mask copies r to w, XORing each byte with maskKey. It is its own inverse.
func mask(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	for i := 0; ; i++ {
		b, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := bw.WriteByte(b ^ maskKey[i%len(maskKey)]); err != nil {
			return err
		}
	}
	return bw.Flush()
}
