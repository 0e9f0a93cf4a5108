// Package deltacodec implements the fixed-block delta format used by
// Ardiex's delta-mode incrementals: a DeltaFile records, for every 4KiB
// block of the new file, whether it matches the corresponding block of the
// original file (Keep) or must be replaced with new bytes (Replace).
package deltacodec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"

	"github.com/ardiex/ardiex/internal/errs"
	"github.com/ardiex/ardiex/internal/hashutil"
)

// BlockSize is fixed at 4KiB per spec.
const BlockSize = 4096

// OpKind distinguishes a kept block from a replaced one.
type OpKind string

const (
	OpKeep    OpKind = "keep"
	OpReplace OpKind = "replace"
)

// BlockOp is one entry in a DeltaFile's ordered operation list.
type BlockOp struct {
	Index int    `json:"index"`
	Kind  OpKind `json:"kind"`
	// Data holds the replacement bytes; only set when Kind == OpReplace.
	Data []byte `json:"data,omitempty"`
}

// wireBlockOp is the JSON-on-the-wire shape: base64 for the byte payload so
// the blob stays valid UTF-8 JSON regardless of the block's content.
type wireBlockOp struct {
	Index int    `json:"index"`
	Kind  OpKind `json:"kind"`
	Data  string `json:"data,omitempty"`
}

// DeltaFile is the serialized artifact described in spec §3/§4.2.
type DeltaFile struct {
	BlockSize    int       `json:"block_size"`
	OriginalSize int64     `json:"original_size"`
	NewSize      int64     `json:"new_size"`
	OriginalHash string    `json:"original_hash"`
	NewHash      string    `json:"new_hash"`
	Ops          []BlockOp `json:"ops"`
}

type wireDeltaFile struct {
	BlockSize    int           `json:"block_size"`
	OriginalSize int64         `json:"original_size"`
	NewSize      int64         `json:"new_size"`
	OriginalHash string        `json:"original_hash"`
	NewHash      string        `json:"new_hash"`
	Ops          []wireBlockOp `json:"ops"`
}

// Create reads originalPath and newPath in lock-step 4KiB blocks and
// produces the DeltaFile describing how to turn the former into the
// latter. originalPath may not exist, in which case every block of
// newPath is a Replace.
func Create(originalPath, newPath string) (*DeltaFile, error) {
	originalBlocks, originalSize, originalHash, err := readAllBlocks(originalPath, true)
	if err != nil {
		return nil, err
	}
	return createFromBlocks(originalBlocks, originalSize, originalHash, newPath)
}

// CreateBytes is Create's in-memory counterpart: originalData stands in
// for the previous version of the file instead of a path on disk. Used
// when the latest materialized version of a file lives across a chain of
// prior snapshots rather than as a single file on disk (see package
// chain).
func CreateBytes(originalData []byte, newPath string) (*DeltaFile, error) {
	blocks := splitBlocks(originalData)
	return createFromBlocks(blocks, int64(len(originalData)), hashutil.HashBytes(originalData), newPath)
}

func createFromBlocks(originalBlocks [][]byte, originalSize int64, originalHash string, newPath string) (*DeltaFile, error) {
	newBlocks, newSize, newHash, err := readAllBlocks(newPath, false)
	if err != nil {
		return nil, err
	}

	ops := make([]BlockOp, 0, len(newBlocks))
	for i, block := range newBlocks {
		if i < len(originalBlocks) && hashutil.HashBytes(block) == hashutil.HashBytes(originalBlocks[i]) {
			ops = append(ops, BlockOp{Index: i, Kind: OpKeep})
			continue
		}
		ops = append(ops, BlockOp{Index: i, Kind: OpReplace, Data: block})
	}

	return &DeltaFile{
		BlockSize:    BlockSize,
		OriginalSize: originalSize,
		NewSize:      newSize,
		OriginalHash: originalHash,
		NewHash:      newHash,
		Ops:          ops,
	}, nil
}

// Apply reconstructs the new file's bytes by replaying delta against the
// content at originalPath. It fails with Corrupt if the original file's
// hash no longer matches delta.OriginalHash, and with Mismatch if the
// reconstructed bytes don't hash to delta.NewHash.
func Apply(originalPath string, delta *DeltaFile) ([]byte, error) {
	originalBlocks, _, originalHash, err := readAllBlocks(originalPath, true)
	if err != nil {
		return nil, err
	}
	result, err := applyToBlocks(originalBlocks, originalHash, delta)
	if err != nil {
		if ae, ok := err.(*errs.Error); ok {
			ae.Source = originalPath
		}
		return nil, err
	}
	return result, nil
}

// ApplyBytes reconstructs the new file's bytes by replaying delta against
// in-memory originalData, without touching disk. Used to walk a delta
// chain forward when the "original" is itself a materialized prior
// snapshot rather than a file on disk.
func ApplyBytes(originalData []byte, delta *DeltaFile) ([]byte, error) {
	originalBlocks := splitBlocks(originalData)
	originalHash := hashutil.HashBytes(originalData)
	return applyToBlocks(originalBlocks, originalHash, delta)
}

func splitBlocks(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	var blocks [][]byte
	for i := 0; i < len(data); i += BlockSize {
		end := i + BlockSize
		if end > len(data) {
			end = len(data)
		}
		blocks = append(blocks, data[i:end])
	}
	return blocks
}

func applyToBlocks(originalBlocks [][]byte, originalHash string, delta *DeltaFile) ([]byte, error) {
	if originalHash != delta.OriginalHash {
		return nil, errs.New(errs.Corrupt, "apply_delta",
			errNoMatch("original content hash does not match delta.OriginalHash"))
	}

	var out bytes.Buffer
	for _, op := range delta.Ops {
		switch op.Kind {
		case OpKeep:
			if op.Index >= len(originalBlocks) {
				return nil, errs.New(errs.Corrupt, "apply_delta",
					errNoMatch("keep operation references a block beyond the original content"))
			}
			out.Write(originalBlocks[op.Index])
		case OpReplace:
			out.Write(op.Data)
		default:
			return nil, errs.New(errs.Corrupt, "apply_delta",
				errNoMatch("unknown block operation kind"))
		}
	}

	result := out.Bytes()
	if int64(len(result)) > delta.NewSize {
		result = result[:delta.NewSize]
	} else if int64(len(result)) < delta.NewSize {
		padded := make([]byte, delta.NewSize)
		copy(padded, result)
		result = padded
	}

	if hashutil.HashBytes(result) != delta.NewHash {
		return nil, errs.New(errs.Mismatch, "apply_delta",
			errNoMatch("reconstructed content hash does not match delta.NewHash"))
	}
	return result, nil
}

// Size returns the serialized size of delta, used to decide whether a
// delta is worth keeping over a whole-file copy (spec §4.2).
func Size(delta *DeltaFile) (int64, error) {
	data, err := Encode(delta)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// Encode serializes delta to its stable on-disk JSON form.
func Encode(delta *DeltaFile) ([]byte, error) {
	wire := wireDeltaFile{
		BlockSize:    delta.BlockSize,
		OriginalSize: delta.OriginalSize,
		NewSize:      delta.NewSize,
		OriginalHash: delta.OriginalHash,
		NewHash:      delta.NewHash,
		Ops:          make([]wireBlockOp, len(delta.Ops)),
	}
	for i, op := range delta.Ops {
		w := wireBlockOp{Index: op.Index, Kind: op.Kind}
		if op.Kind == OpReplace {
			w.Data = base64.StdEncoding.EncodeToString(op.Data)
		}
		wire.Ops[i] = w
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, errs.New(errs.Io, "encode_delta", err)
	}
	return data, nil
}

// Decode parses a delta blob produced by Encode, failing with Corrupt on
// any structural or encoding problem.
func Decode(data []byte) (*DeltaFile, error) {
	var wire wireDeltaFile
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errs.New(errs.Corrupt, "decode_delta", err)
	}
	if wire.BlockSize == 0 {
		return nil, errs.New(errs.Corrupt, "decode_delta", errNoMatch("missing block_size"))
	}

	delta := &DeltaFile{
		BlockSize:    wire.BlockSize,
		OriginalSize: wire.OriginalSize,
		NewSize:      wire.NewSize,
		OriginalHash: wire.OriginalHash,
		NewHash:      wire.NewHash,
		Ops:          make([]BlockOp, len(wire.Ops)),
	}
	for i, w := range wire.Ops {
		op := BlockOp{Index: w.Index, Kind: w.Kind}
		if w.Kind == OpReplace {
			raw, err := base64.StdEncoding.DecodeString(w.Data)
			if err != nil {
				return nil, errs.New(errs.Corrupt, "decode_delta", err)
			}
			op.Data = raw
		}
		delta.Ops[i] = op
	}
	return delta, nil
}

// Save writes delta to path in its stable serialized form.
func Save(delta *DeltaFile, path string) error {
	data, err := Encode(delta)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.WithSource(errs.Io, "save_delta", path, err)
	}
	return nil
}

// Load reads and decodes the delta blob at path.
func Load(path string) (*DeltaFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.WithSource(errs.Io, "load_delta", path, err)
	}
	delta, err := Decode(data)
	if err != nil {
		if ae, ok := err.(*errs.Error); ok {
			ae.Source = path
		}
		return nil, err
	}
	return delta, nil
}

// readAllBlocks reads path as a sequence of BlockSize blocks. When
// allowMissing is true and path does not exist, it returns an empty block
// set with the hash of an empty byte slice rather than an error.
func readAllBlocks(path string, allowMissing bool) ([][]byte, int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		if allowMissing && os.IsNotExist(err) {
			return nil, 0, hashutil.HashBytes(nil), nil
		}
		return nil, 0, "", errs.WithSource(errs.Io, "read_blocks", path, err)
	}
	defer f.Close()

	var blocks [][]byte
	var total int64
	buf := make([]byte, BlockSize)
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			block := make([]byte, n)
			copy(block, buf[:n])
			blocks = append(blocks, block)
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, 0, "", errs.WithSource(errs.Io, "read_blocks", path, err)
		}
	}

	hash, err := hashFileFromBlocks(path)
	if err != nil {
		return nil, 0, "", err
	}
	return blocks, total, hash, nil
}

func hashFileFromBlocks(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return hashutil.HashBytes(nil), nil
		}
		return "", errs.WithSource(errs.Io, "hash_blocks", path, err)
	}
	return hashutil.HashFile(path)
}

type deltaErr string

func (e deltaErr) Error() string { return string(e) }

func errNoMatch(msg string) error { return deltaErr(msg) }
