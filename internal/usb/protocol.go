package usb

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"flashthing/internal/flasherr"
)

// amlcMagic is the 32-bit magic at the head of an AMLC block header.
// WriteAMLCData writes it little-endian, so its wire bytes are
// 0x43 0x41 0x4d 0x4c ("CAML"). Flagged as an open question pending confirmation against a hardware
// capture before shipping.
const amlcMagic uint32 = 0x4c4d4143

// BlockProgressFunc reports (sent, total) bytes of a streamed transfer.
// Implementations must return quickly; Protocol calls it synchronously
// between blocks.
type BlockProgressFunc func(sent, total int)

// AMLCProgressFunc reports (seq, totalBlocks) as AMLC blocks stream.
type AMLCProgressFunc func(seq, totalBlocks int)

// Protocol layers the vendor command semantics (spec §4.B) on top of a
// Transport. It never owns the USB handle; it only issues transfers
// through the Transport it's given.
type Protocol struct {
	t      Transport
	logger *slog.Logger
}

func NewProtocol(t Transport, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{t: t, logger: logger}
}

// wrapUsbErr turns an error returned by a Transport call into
// flasherr.UsbError so a transfer failure carries a typed,
// exit-code-bearing error (spec §7: "UsbError(detail) wraps
// transport-layer errors"). Every non-nil error is wrapped, including a
// context error the Transport returns; the original stays reachable
// through Unwrap.
func wrapUsbErr(detail string, err error) error {
	if err == nil {
		return nil
	}
	return &flasherr.UsbError{Detail: detail, Err: err}
}

// Identify reads the 8-byte mask-ROM identity string.
func (p *Protocol) Identify(ctx context.Context) ([]byte, error) {
	data, err := p.t.ControlRead(ctx, ReqIdentify, 0, 0, 8)
	return data, wrapUsbErr("identify", err)
}

// WriteSimpleMemory issues a single WriteMemory control transfer. The
// caller must ensure len(data) <= MaxPacket.
func (p *Protocol) WriteSimpleMemory(ctx context.Context, addr uint32, data []byte) error {
	if len(data) > MaxPacket {
		return fmt.Errorf("usb: writeSimpleMemory payload %d exceeds max packet %d", len(data), MaxPacket)
	}
	value, index := AddressToValueIndex(addr)
	return wrapUsbErr("writeSimpleMemory", p.t.ControlWrite(ctx, ReqWriteMemory, value, index, data))
}

// ReadSimpleMemory issues a single ReadMemory control transfer. Present
// for completeness (spec §4.B); the executor never calls it.
func (p *Protocol) ReadSimpleMemory(ctx context.Context, addr uint32, length int) ([]byte, error) {
	value, index := AddressToValueIndex(addr)
	data, err := p.t.ControlRead(ctx, ReqReadMemory, value, index, length)
	return data, wrapUsbErr("readSimpleMemory", err)
}

// RunAt sends RunInAddr, transferring execution to addr. It does not
// wait for a reply. keepPower maps to a bit in the high nibble of
// wValue (spec §4.A).
func (p *Protocol) RunAt(ctx context.Context, addr uint32, keepPower bool) error {
	value, index := AddressToValueIndex(addr)
	if keepPower {
		value |= 0x8000
	}
	return wrapUsbErr("runInAddr", p.t.ControlWrite(ctx, ReqRunInAddr, value, index, nil))
}

// BulkCmd sends an ASCII, NUL-terminated vendor bulk command, waits for
// the device to act on it, then reads the 16-byte status reply. It fails
// with flasherr.BulkCmdFailed if the reply does not start with
// "success" (case-insensitive).
func (p *Protocol) BulkCmd(ctx context.Context, cmd string) error {
	payload := append([]byte(cmd), 0x00)
	if err := p.t.ControlWrite(ctx, ReqBulkCmd, 0, 0, payload); err != nil {
		return wrapUsbErr("bulkCmd", err)
	}

	select {
	case <-time.After(BulkCmdStatusDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	reply, err := p.t.ControlRead(ctx, ReqBulkCmdStat, 0, 0, 16)
	if err != nil {
		return wrapUsbErr("bulkCmdStat", err)
	}

	replyStr := strings.TrimRight(string(reply), "\x00")
	if !strings.HasPrefix(strings.ToLower(replyStr), "success") {
		return &flasherr.BulkCmdFailed{Command: cmd, Reply: replyStr}
	}
	return nil
}

// WriteLargeMemory implements the block-segmented large-memory write
// algorithm (spec §4.B). progress, if non-nil, is called after every
// block with cumulative bytes sent.
func (p *Protocol) WriteLargeMemory(ctx context.Context, addr uint32, data []byte, blockLength uint32, appendZeros bool, progress BlockProgressFunc) error {
	if blockLength == 0 {
		return fmt.Errorf("usb: writeLargeMemory blockLength must be > 0")
	}

	payload := data
	if appendZeros && uint32(len(payload))%blockLength != 0 {
		pad := blockLength - uint32(len(payload))%blockLength
		payload = append(append([]byte(nil), payload...), make([]byte, pad)...)
	}

	total := len(payload)
	nBlocks := (total + int(blockLength) - 1) / int(blockLength)
	if total == 0 {
		nBlocks = 0
	}

	header := make([]byte, 16)
	binary.LittleEndian.PutUint64(header[0:8], uint64(addr))
	binary.LittleEndian.PutUint64(header[8:16], uint64(total))
	if err := p.t.ControlWrite(ctx, ReqWriteMediaLarge, 0, 0, header); err != nil {
		return wrapUsbErr("writeLargeMemory header", err)
	}

	sent := 0
	for i := 0; i < nBlocks; i++ {
		start := i * int(blockLength)
		end := start + int(blockLength)
		if end > total {
			end = total
		}
		block := payload[start:end]

		blockAddr := addr + uint32(start)
		value, index := AddressToValueIndex(blockAddr)
		if err := p.t.ControlWrite(ctx, ReqWriteMemory, value, index, block); err != nil {
			return wrapUsbErr(fmt.Sprintf("writeLargeMemory block %d/%d", i+1, nBlocks), err)
		}

		sent += len(block)
		if progress != nil {
			progress(sent, total)
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}

// WriteAMLCData sends one AMLC block: a WriteAuxHeap control transfer
// carrying the 16-byte AMLC header, followed by a WriteAMLC transfer
// carrying the block body (spec §4.B).
func (p *Protocol) WriteAMLCData(ctx context.Context, seq, amlcOffset uint32, data []byte) error {
	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], amlcMagic)
	binary.LittleEndian.PutUint32(header[4:8], seq)
	binary.LittleEndian.PutUint32(header[8:12], amlcOffset)
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(data)))

	if err := p.t.ControlWrite(ctx, ReqWriteAuxHeap, 0, 0, header); err != nil {
		return wrapUsbErr("writeAMLCData header", err)
	}
	if err := p.t.ControlWrite(ctx, ReqWriteAMLC, 0, 0, data); err != nil {
		return wrapUsbErr("writeAMLCData body", err)
	}
	return nil
}

// streamAMLC segments payload into AMLCBlockSize blocks, sending each
// with WriteAMLCData and then polling GetBootAMLC until its seq field
// matches, before advancing (spec §4.B).
func (p *Protocol) streamAMLC(ctx context.Context, payload []byte, progress AMLCProgressFunc) error {
	total := len(payload)
	nBlocks := (total + AMLCBlockSize - 1) / AMLCBlockSize
	if total == 0 {
		nBlocks = 0
	}

	for i := 0; i < nBlocks; i++ {
		start := i * AMLCBlockSize
		end := start + AMLCBlockSize
		if end > total {
			end = total
		}
		block := payload[start:end]
		offset := uint32(start)

		if err := p.WriteAMLCData(ctx, uint32(i), offset, block); err != nil {
			return fmt.Errorf("amlc block %d/%d: %w", i+1, nBlocks, err)
		}

		if err := p.waitAMLCSeq(ctx, uint32(i)); err != nil {
			return err
		}

		if progress != nil {
			progress(i+1, nBlocks)
		}
	}

	return nil
}

// waitAMLCSeq polls GetBootAMLC every 50ms until the returned record's
// seq field equals want, or ctx expires.
func (p *Protocol) waitAMLCSeq(ctx context.Context, want uint32) error {
	const poll = 50 * time.Millisecond
	for {
		record, err := p.t.ControlRead(ctx, ReqGetBootAMLC, 0, 0, 16)
		if err != nil {
			return wrapUsbErr("getBootAMLC", err)
		}
		if len(record) >= 8 {
			got := binary.LittleEndian.Uint32(record[4:8])
			if got == want {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

// BL2Boot performs the composite mask-ROM handoff: load bl2 into SRAM in
// 4096-byte slices, run it, wait for it to come up, reopen the
// re-enumerated device, then stream bootloader to it via AMLC (spec
// §4.B, §4.C). It returns the descriptor of the re-enumerated device so
// the caller can verify the resulting boot stage without issuing a
// second reopen (spec §9: the mask-ROM handle must be released and a
// fresh one obtained before anything talks to the device again — AMLC
// streaming included — so the reopen happens here, not in the caller).
func (p *Protocol) BL2Boot(ctx context.Context, bl2Addr uint32, bl2, bootloader []byte, amlcProgress AMLCProgressFunc) (Descriptor, error) {
	const sliceSize = 4096

	for off := 0; off < len(bl2); off += sliceSize {
		end := off + sliceSize
		if end > len(bl2) {
			end = len(bl2)
		}
		slice := bl2[off:end]

		// Each 4096-byte slice is itself written one MaxPacket-sized
		// control transfer at a time; WriteSimpleMemory refuses anything
		// larger (spec §4.B).
		for packetOff := 0; packetOff < len(slice); packetOff += MaxPacket {
			packetEnd := packetOff + MaxPacket
			if packetEnd > len(slice) {
				packetEnd = len(slice)
			}
			addr := bl2Addr + uint32(off) + uint32(packetOff)
			if err := p.WriteSimpleMemory(ctx, addr, slice[packetOff:packetEnd]); err != nil {
				return Descriptor{}, fmt.Errorf("bl2Boot load: %w", err)
			}
		}
	}

	if err := p.RunAt(ctx, bl2Addr, false); err != nil {
		return Descriptor{}, fmt.Errorf("bl2Boot run: %w", err)
	}

	select {
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
		return Descriptor{}, ctx.Err()
	}

	// Release the mask-ROM handle and wait for the device to re-enumerate
	// as BL2 before streaming anything to it; holding the stale handle
	// across re-enumeration is an OS-level error on some platforms (spec
	// §9).
	desc, err := p.t.Reopen(ctx, DefaultReopenDeadline)
	if err != nil {
		return Descriptor{}, wrapUsbErr("bl2Boot reopen", err)
	}

	if err := p.streamAMLC(ctx, bootloader, amlcProgress); err != nil {
		return Descriptor{}, err
	}
	return desc, nil
}
