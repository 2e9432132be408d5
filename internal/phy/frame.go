// Package phy implements the acoustic PHY: chirp preamble generation and
// correlation, BPSK/OFDM modulation, a stateful demodulator, and the
// carrier-sense energy probe the MAC layer uses for CSMA/CA.
package phy

import (
	"errors"

	"github.com/cwsl/acoustic-netstack/internal/bitio"
	"github.com/cwsl/acoustic-netstack/internal/fec"
)

// lengthFieldBits is the width of the length field prepended to every
// ECC-enabled phy-frame payload (FRAME_LENGTH_LENGTH in the wire format).
const lengthFieldBits = 12

var (
	// ErrDataTooLong is returned when a caller asks to encode more data bits
	// than a single phy-frame can carry.
	ErrDataTooLong = errors.New("phy: data exceeds frame capacity")
	// ErrFrameDecode corresponds to FrameDecodeError: RS-uncorrectable or
	// CRC-mismatched frames are dropped, never surfaced as fatal.
	ErrFrameDecode = errors.New("phy: frame decode failed")
)

// Codec packs and unpacks a single phy-frame's payload bits: length field +
// data, RS(24,12)-encoded when ECC is enabled, or length + data + CRC-16
// when it is not.
type Codec struct {
	EnableECC bool

	// DataBitsLength is the usable data-bit capacity per ECC phy-frame.
	// Under RS(24,12) medium profile (12 data hexbits = 72 bits), 12 bits
	// are spent on the length field, leaving 60 bits for data.
	DataBitsLength int

	MaxFrameDataLengthNoEncoding int
	FrameLengthLengthNoEncoding  int
	FrameCRCLengthNoEncoding     int

	// Metrics, when set, records decode outcomes and RS correction
	// counts. Left nil, it is simply never called.
	Metrics interface {
		FrameDecoded(outcome string)
		CorrectedSymbols(n int)
	}
}

// DataCapacityBits returns the usable data-bit capacity of a single
// phy-frame under this codec's configuration.
func (c *Codec) DataCapacityBits() int {
	if c.EnableECC {
		return c.DataBitsLength
	}
	return c.MaxFrameDataLengthNoEncoding
}

// FrameBitLen returns the total number of on-air bits a single phy-frame
// occupies (post RS or post CRC), the quantity the demodulator must collect
// per carrier before it can attempt a decode.
func (c *Codec) FrameBitLen() int {
	if c.EnableECC {
		return fec.TotalSymbols * 6
	}
	return c.FrameLengthLengthNoEncoding + c.MaxFrameDataLengthNoEncoding + c.FrameCRCLengthNoEncoding
}

// Encode builds the on-air bit sequence for one phy-frame carrying the first
// bitLen bits of data (bitLen <= DataCapacityBits()).
func (c *Codec) Encode(data []byte, bitLen int) ([]bitio.Bit, error) {
	if c.EnableECC {
		return c.encodeECC(data, bitLen)
	}
	return c.encodeNoECC(data, bitLen)
}

// Decode recovers the data bits carried by one phy-frame's worth of on-air
// bits. It returns ErrFrameDecode for an uncorrectable/CRC-mismatched frame;
// callers drop the frame and rely on MAC-layer retransmission.
func (c *Codec) Decode(bits []bitio.Bit) ([]byte, int, error) {
	if c.EnableECC {
		return c.decodeECC(bits)
	}
	return c.decodeNoECC(bits)
}

func (c *Codec) encodeECC(data []byte, bitLen int) ([]bitio.Bit, error) {
	if bitLen > c.DataBitsLength {
		return nil, ErrDataTooLong
	}
	lengthBits := uintBits(uint32(bitLen), lengthFieldBits)
	dataBits := bitio.Unpack(data, bitLen)
	// Pad to the full 60-bit RS data capacity so the message always fills
	// the 12 data hexbits, whatever DataBitsLength is configured to.
	padded := make([]bitio.Bit, fec.DataSymbols*6-lengthFieldBits)
	copy(padded, dataBits)

	messageBits := append(append([]bitio.Bit{}, lengthBits...), padded...)
	messageBytes := bitio.Pack(messageBits)
	hexbits, err := bitio.BytesToHexbits(messageBytes)
	if err != nil || len(hexbits) != fec.DataSymbols {
		return nil, ErrDataTooLong
	}

	var dataSymbols [fec.DataSymbols]byte
	for i, h := range hexbits {
		dataSymbols[i] = byte(h)
	}
	codeword := fec.EncodeMedium(dataSymbols)

	hb := make([]bitio.Hexbit, fec.TotalSymbols)
	for i, v := range codeword {
		hb[i] = bitio.Hexbit(v)
	}
	payloadBytes, err := bitio.HexbitsToBytes(hb)
	if err != nil {
		return nil, err
	}
	return bitio.Unpack(payloadBytes, fec.TotalSymbols*6), nil
}

func (c *Codec) decodeECC(bits []bitio.Bit) ([]byte, int, error) {
	if len(bits) != fec.TotalSymbols*6 {
		return nil, 0, ErrFrameDecode
	}
	payloadBytes := bitio.Pack(bits)
	hexbits, err := bitio.BytesToHexbits(payloadBytes)
	if err != nil || len(hexbits) != fec.TotalSymbols {
		return nil, 0, ErrFrameDecode
	}
	var codeword [fec.TotalSymbols]byte
	for i, h := range hexbits {
		codeword[i] = byte(h)
	}
	dataSymbols, corrected, err := fec.DecodeMedium(codeword)
	if err != nil {
		if c.Metrics != nil {
			c.Metrics.FrameDecoded("uncorrectable")
		}
		return nil, 0, ErrFrameDecode
	}

	hb := make([]bitio.Hexbit, fec.DataSymbols)
	for i, v := range dataSymbols {
		hb[i] = bitio.Hexbit(v)
	}
	messageBytes, err := bitio.HexbitsToBytes(hb)
	if err != nil {
		return nil, 0, ErrFrameDecode
	}
	messageBits := bitio.Unpack(messageBytes, fec.DataSymbols*6)
	bitLen := int(bitsToUint(messageBits[:lengthFieldBits]))
	if bitLen < 0 || bitLen > c.DataBitsLength {
		if c.Metrics != nil {
			c.Metrics.FrameDecoded("length_invalid")
		}
		return nil, 0, ErrFrameDecode
	}
	dataBits := messageBits[lengthFieldBits : lengthFieldBits+bitLen]
	if c.Metrics != nil {
		c.Metrics.FrameDecoded("ok")
		c.Metrics.CorrectedSymbols(corrected)
	}
	return bitio.Pack(dataBits), bitLen, nil
}

func (c *Codec) encodeNoECC(data []byte, bitLen int) ([]bitio.Bit, error) {
	if bitLen > c.MaxFrameDataLengthNoEncoding {
		return nil, ErrDataTooLong
	}
	lengthBits := uintBits(uint32(bitLen), c.FrameLengthLengthNoEncoding)
	dataBits := bitio.Unpack(data, bitLen)
	padded := make([]bitio.Bit, c.MaxFrameDataLengthNoEncoding)
	copy(padded, dataBits)

	msgBits := append(append([]bitio.Bit{}, lengthBits...), padded...)
	msgBytes := bitio.Pack(msgBits)
	framed := fec.AppendCRC16(msgBytes)
	return bitio.Unpack(framed, len(framed)*8), nil
}

func (c *Codec) decodeNoECC(bits []bitio.Bit) ([]byte, int, error) {
	if len(bits) != c.FrameBitLen() {
		return nil, 0, ErrFrameDecode
	}
	framed := bitio.Pack(bits)
	if !fec.VerifyCRC16(framed) {
		if c.Metrics != nil {
			c.Metrics.FrameDecoded("crc_mismatch")
		}
		return nil, 0, ErrFrameDecode
	}
	msgBits := bitio.Unpack(framed, c.FrameLengthLengthNoEncoding+c.MaxFrameDataLengthNoEncoding)
	bitLen := int(bitsToUint(msgBits[:c.FrameLengthLengthNoEncoding]))
	if bitLen < 0 || bitLen > c.MaxFrameDataLengthNoEncoding {
		if c.Metrics != nil {
			c.Metrics.FrameDecoded("length_invalid")
		}
		return nil, 0, ErrFrameDecode
	}
	dataBits := msgBits[c.FrameLengthLengthNoEncoding : c.FrameLengthLengthNoEncoding+bitLen]
	if c.Metrics != nil {
		c.Metrics.FrameDecoded("ok")
	}
	return bitio.Pack(dataBits), bitLen, nil
}

// uintBits renders v as an n-bit big-endian bit sequence.
func uintBits(v uint32, n int) []bitio.Bit {
	bits := make([]bitio.Bit, n)
	for i := 0; i < n; i++ {
		shift := uint(n - 1 - i)
		if v&(1<<shift) != 0 {
			bits[i] = 1
		}
	}
	return bits
}

// bitsToUint parses a big-endian bit sequence back into an integer.
func bitsToUint(bits []bitio.Bit) uint32 {
	var v uint32
	for _, b := range bits {
		v = v<<1 | uint32(b)
	}
	return v
}

// sliceBits extracts the n bits of data starting at bit offset, repacked
// into a fresh byte slice as if they started at bit 0.
func sliceBits(data []byte, offset, n int) []byte {
	if n <= 0 {
		return nil
	}
	bits := bitio.Unpack(data, offset+n)
	return bitio.Pack(bits[offset : offset+n])
}
