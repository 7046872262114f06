package download

import (
	"fmt"
	"io"

	"golang.org/x/crypto/blowfish"
)

// Stripe cipher layout: the stream is cut into 2048-byte blocks and every
// third block (the first of each group of three) is blowfish-CBC encrypted
// with a fixed IV. The final block is encrypted only when it is full.
const stripeBlockSize = 2048

var stripeIV = [8]byte{0, 1, 2, 3, 4, 5, 6, 7}

// stripeReader decrypts a stripe-encrypted stream on the fly. It buffers one
// block at a time so the downstream writer sees cleartext at roughly network
// pace.
type stripeReader struct {
	src    io.Reader
	cipher *blowfish.Cipher

	block   [stripeBlockSize]byte
	buf     []byte // decrypted bytes not yet consumed
	blockIx int
	eof     bool
}

// NewStripeReader wraps src with stripe decryption under the given 16-byte
// blowfish key.
func NewStripeReader(src io.Reader, key []byte) (io.Reader, error) {
	c, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("stripe cipher init: %w", err)
	}
	return &stripeReader{src: src, cipher: c}, nil
}

func (r *stripeReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// fill reads the next block, decrypting it when its index selects it for the
// stripe.
func (r *stripeReader) fill() error {
	n, err := io.ReadFull(r.src, r.block[:])
	if err == io.EOF {
		r.eof = true
		return nil
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return err
	}
	short := err == io.ErrUnexpectedEOF

	if r.blockIx%3 == 0 && !short {
		decryptBlockCBC(r.cipher, r.block[:n])
	}
	r.blockIx++
	r.buf = r.block[:n]
	if short {
		r.eof = true
	}
	return nil
}

// decryptBlockCBC performs CBC decryption in place with the fixed IV. The
// block length is a multiple of the blowfish block size by construction.
func decryptBlockCBC(c *blowfish.Cipher, block []byte) {
	prev := stripeIV
	var chunk [8]byte
	for off := 0; off < len(block); off += 8 {
		copy(chunk[:], block[off:off+8])
		c.Decrypt(block[off:off+8], block[off:off+8])
		for i := 0; i < 8; i++ {
			block[off+i] ^= prev[i]
		}
		prev = chunk
	}
}

// encryptBlockCBC is the inverse transform; tests use it to build stripe
// streams.
func encryptBlockCBC(c *blowfish.Cipher, block []byte) {
	prev := stripeIV
	for off := 0; off < len(block); off += 8 {
		for i := 0; i < 8; i++ {
			block[off+i] ^= prev[i]
		}
		c.Encrypt(block[off:off+8], block[off:off+8])
		copy(prev[:], block[off:off+8])
	}
}
