package net

import (
	"bytes"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrCheckpointLoad is returned when a checkpoint is missing, malformed or
// does not match the network architecture.
var ErrCheckpointLoad = errors.New("checkpoint load failed")

const (
	checkpointMagic   = "mesonet-checkpoint"
	checkpointVersion = 1
)

// Checkpoint field numbers.
const (
	fieldMagic   protowire.Number = 1
	fieldVersion protowire.Number = 2
	fieldEpoch   protowire.Number = 3
	fieldValLoss protowire.Number = 4
	fieldValAcc  protowire.Number = 5
	fieldTensor  protowire.Number = 6

	fieldTensorName protowire.Number = 1
	fieldTensorDims protowire.Number = 2
	fieldTensorData protowire.Number = 3
)

// CheckpointMeta describes the epoch a checkpoint was taken at.
type CheckpointMeta struct {
	Epoch       int
	ValLoss     float64
	ValAccuracy float64
}

type tensor struct {
	name string
	dims []int
	data []float32
}

// Save writes every named tensor of the network to filename.
// The file is replaced atomically so a crash never leaves a torn checkpoint.
func (n *Network) Save(filename string, meta CheckpointMeta) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create checkpoint directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(filename)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer os.Remove(tmp.Name())

	if err := n.Encode(tmp, meta); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to sync checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close checkpoint")
	}
	return errors.Wrap(os.Rename(tmp.Name(), filename), "failed to replace checkpoint")
}

// Encode writes the network in the checkpoint wire format.
func (n *Network) Encode(w io.Writer, meta CheckpointMeta) error {
	var b []byte
	b = protowire.AppendTag(b, fieldMagic, protowire.BytesType)
	b = protowire.AppendString(b, checkpointMagic)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, checkpointVersion)
	b = protowire.AppendTag(b, fieldEpoch, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(meta.Epoch))
	b = protowire.AppendTag(b, fieldValLoss, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(meta.ValLoss))
	b = protowire.AppendTag(b, fieldValAcc, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(meta.ValAccuracy))

	for _, p := range n.NamedParams() {
		b = protowire.AppendTag(b, fieldTensor, protowire.BytesType)
		b = protowire.AppendBytes(b, appendTensor(nil, p.Name, p.Shape, p.Data))
	}

	_, err := w.Write(b)
	return errors.Wrap(err, "failed to write checkpoint")
}

func appendTensor(b []byte, name string, dims []int, data []float32) []byte {
	b = protowire.AppendTag(b, fieldTensorName, protowire.BytesType)
	b = protowire.AppendString(b, name)

	var packed []byte
	for _, d := range dims {
		packed = protowire.AppendVarint(packed, uint64(d))
	}
	b = protowire.AppendTag(b, fieldTensorDims, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)

	packed = make([]byte, 0, 4*len(data))
	for _, v := range data {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, fieldTensorData, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// Load restores the network tensors from filename.
// Nothing is modified unless every tensor name and shape matches.
func (n *Network) Load(filename string) (CheckpointMeta, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return CheckpointMeta{}, errors.Wrapf(ErrCheckpointLoad, "%v", err)
	}
	meta, err := n.Decode(bytes.NewReader(data))
	if err != nil {
		return CheckpointMeta{}, errors.Wrapf(err, "%s", filename)
	}
	return meta, nil
}

// Decode reads a checkpoint from r into the network.
func (n *Network) Decode(r io.Reader) (CheckpointMeta, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return CheckpointMeta{}, errors.Wrapf(ErrCheckpointLoad, "read: %v", err)
	}
	meta, tensors, err := parseCheckpoint(data)
	if err != nil {
		return CheckpointMeta{}, err
	}

	params := n.NamedParams()
	if len(tensors) != len(params) {
		return CheckpointMeta{}, errors.Wrapf(ErrCheckpointLoad, "checkpoint has %d tensors, network has %d", len(tensors), len(params))
	}
	byName := make(map[string]tensor, len(tensors))
	for _, t := range tensors {
		byName[t.name] = t
	}
	for _, p := range params {
		t, ok := byName[p.Name]
		if !ok {
			return CheckpointMeta{}, errors.Wrapf(ErrCheckpointLoad, "missing tensor %q", p.Name)
		}
		if !slices.Equal(t.dims, p.Shape) || len(t.data) != len(p.Data) {
			return CheckpointMeta{}, errors.Wrapf(ErrCheckpointLoad, "tensor %q has shape %v, expected %v", p.Name, t.dims, p.Shape)
		}
	}

	for _, p := range params {
		copy(p.Data, byName[p.Name].data)
	}
	return meta, nil
}

func parseCheckpoint(b []byte) (CheckpointMeta, []tensor, error) {
	var (
		meta    CheckpointMeta
		tensors []tensor
		magic   bool
		version uint64
	)
	for len(b) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return meta, nil, errors.Wrapf(ErrCheckpointLoad, "bad tag: %v", protowire.ParseError(tagLen))
		}
		b = b[tagLen:]

		var m int
		switch {
		case num == fieldMagic && typ == protowire.BytesType:
			var s string
			s, m = protowire.ConsumeString(b)
			magic = s == checkpointMagic
		case num == fieldVersion && typ == protowire.VarintType:
			version, m = protowire.ConsumeVarint(b)
		case num == fieldEpoch && typ == protowire.VarintType:
			var v uint64
			v, m = protowire.ConsumeVarint(b)
			meta.Epoch = int(v)
		case num == fieldValLoss && typ == protowire.Fixed64Type:
			var v uint64
			v, m = protowire.ConsumeFixed64(b)
			meta.ValLoss = math.Float64frombits(v)
		case num == fieldValAcc && typ == protowire.Fixed64Type:
			var v uint64
			v, m = protowire.ConsumeFixed64(b)
			meta.ValAccuracy = math.Float64frombits(v)
		case num == fieldTensor && typ == protowire.BytesType:
			var raw []byte
			raw, m = protowire.ConsumeBytes(b)
			if m >= 0 {
				t, err := parseTensor(raw)
				if err != nil {
					return meta, nil, err
				}
				tensors = append(tensors, t)
			}
		default:
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return meta, nil, errors.Wrapf(ErrCheckpointLoad, "field %d: %v", num, protowire.ParseError(m))
		}
		b = b[m:]
	}

	if !magic {
		return meta, nil, errors.Wrap(ErrCheckpointLoad, "not a checkpoint file")
	}
	if version != checkpointVersion {
		return meta, nil, errors.Wrapf(ErrCheckpointLoad, "unsupported version %d", version)
	}
	return meta, tensors, nil
}

func parseTensor(b []byte) (tensor, error) {
	var t tensor
	for len(b) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return t, errors.Wrapf(ErrCheckpointLoad, "bad tensor tag: %v", protowire.ParseError(tagLen))
		}
		b = b[tagLen:]

		var m int
		switch {
		case num == fieldTensorName && typ == protowire.BytesType:
			t.name, m = protowire.ConsumeString(b)
		case num == fieldTensorDims && typ == protowire.BytesType:
			var packed []byte
			packed, m = protowire.ConsumeBytes(b)
			for len(packed) > 0 && m >= 0 {
				v, k := protowire.ConsumeVarint(packed)
				if k < 0 {
					m = k
					break
				}
				t.dims = append(t.dims, int(v))
				packed = packed[k:]
			}
		case num == fieldTensorData && typ == protowire.BytesType:
			var packed []byte
			packed, m = protowire.ConsumeBytes(b)
			if m >= 0 && len(packed)%4 != 0 {
				return t, errors.Wrapf(ErrCheckpointLoad, "tensor %q data length %d not a multiple of 4", t.name, len(packed))
			}
			t.data = make([]float32, 0, len(packed)/4)
			for len(packed) > 0 && m >= 0 {
				v, k := protowire.ConsumeFixed32(packed)
				t.data = append(t.data, math.Float32frombits(v))
				packed = packed[k:]
			}
		default:
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return t, errors.Wrapf(ErrCheckpointLoad, "tensor field %d: %v", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return t, nil
}
