// Package e57 reads and writes ASTM E2807 point-cloud files: a hierarchical
// XML metadata tree at the tail of the file describing binary
// CompressedVector point sections in the body.
package e57

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pointscape/pointscape/internal/errs"
)

// NodeType tags the E57 node variants.
type NodeType int

const (
	TypeStructure NodeType = iota
	TypeVector
	TypeCompressedVector
	TypeInteger
	TypeScaledInteger
	TypeFloat
	TypeString
	TypeBlob
)

func (t NodeType) String() string {
	switch t {
	case TypeStructure:
		return "Structure"
	case TypeVector:
		return "Vector"
	case TypeCompressedVector:
		return "CompressedVector"
	case TypeInteger:
		return "Integer"
	case TypeScaledInteger:
		return "ScaledInteger"
	case TypeFloat:
		return "Float"
	case TypeString:
		return "String"
	case TypeBlob:
		return "Blob"
	default:
		return fmt.Sprintf("NodeType(%d)", int(t))
	}
}

// Node is one element of the E57 metadata tree. Every node belongs to
// exactly one File; callers hold references only while that file is open.
type Node interface {
	NodeType() NodeType
}

// StructureNode is an ordered map from child name to node. Child names are
// case-sensitive and unique within the parent.
type StructureNode struct {
	names    []string
	children map[string]Node
}

// NewStructure returns an empty structure node.
func NewStructure() *StructureNode {
	return &StructureNode{children: make(map[string]Node)}
}

func (*StructureNode) NodeType() NodeType { return TypeStructure }

// Set attaches child under name, rejecting duplicates.
func (s *StructureNode) Set(name string, child Node) error {
	if _, dup := s.children[name]; dup {
		return errs.New(errs.FormatInvalid, "duplicate child %q in structure", name)
	}
	s.names = append(s.names, name)
	s.children[name] = child
	return nil
}

// Get returns the named child.
func (s *StructureNode) Get(name string) (Node, bool) {
	n, ok := s.children[name]
	return n, ok
}

// IsDefined reports whether a child with the given name exists.
func (s *StructureNode) IsDefined(name string) bool {
	_, ok := s.children[name]
	return ok
}

// Names returns the child names in insertion order.
func (s *StructureNode) Names() []string { return s.names }

// VectorNode is a homogeneous ordered list of children.
type VectorNode struct {
	AllowHeterogeneous bool
	children           []Node
}

func (*VectorNode) NodeType() NodeType { return TypeVector }

// Append adds a child at the end of the vector.
func (v *VectorNode) Append(child Node) { v.children = append(v.children, child) }

// Len returns the number of children.
func (v *VectorNode) Len() int { return len(v.children) }

// At returns child i.
func (v *VectorNode) At(i int) (Node, error) {
	if i < 0 || i >= len(v.children) {
		return nil, errs.New(errs.FormatInvalid, "vector index %d out of range [0,%d)", i, len(v.children))
	}
	return v.children[i], nil
}

// IntegerNode is a bounded 64-bit integer value.
type IntegerNode struct {
	Value int64
	Min   int64
	Max   int64
}

func (*IntegerNode) NodeType() NodeType { return TypeInteger }

// ScaledIntegerNode stores a bounded raw integer decoded as Raw*Scale+Offset.
type ScaledIntegerNode struct {
	Raw    int64
	Min    int64
	Max    int64
	Scale  float64
	Offset float64
}

func (*ScaledIntegerNode) NodeType() NodeType { return TypeScaledInteger }

// Value returns the decoded value.
func (n *ScaledIntegerNode) Value() float64 { return float64(n.Raw)*n.Scale + n.Offset }

// FloatPrecision selects the on-disk width of a Float node's records.
type FloatPrecision int

const (
	PrecisionDouble FloatPrecision = iota
	PrecisionSingle
)

// FloatNode is an IEEE 754 value with a declared precision and value range.
type FloatNode struct {
	Value     float64
	Precision FloatPrecision
	Min       float64
	Max       float64
}

func (*FloatNode) NodeType() NodeType { return TypeFloat }

// StringNode holds a UTF-8 string value.
type StringNode struct {
	Value string
}

func (*StringNode) NodeType() NodeType { return TypeString }

// BlobNode references an opaque byte range in the file body.
type BlobNode struct {
	FileOffset int64
	Length     int64
}

func (*BlobNode) NodeType() NodeType { return TypeBlob }

// CompressedVectorNode is a record sequence backed by a binary section. Its
// prototype is a Structure whose leaves describe each record's fields.
type CompressedVectorNode struct {
	Prototype *StructureNode
	Codecs    *VectorNode

	recordCount int64
	fileOffset  int64 // start of the binary section within the file

	file *File // owning handle; nil until attached
}

func (*CompressedVectorNode) NodeType() NodeType { return TypeCompressedVector }

// RecordCount returns the number of records in the binary section.
func (cv *CompressedVectorNode) RecordCount() int64 { return cv.recordCount }

// prototypeFields returns the prototype's leaf fields in declaration order,
// validating that every child is an Integer, ScaledInteger or Float.
func (cv *CompressedVectorNode) prototypeFields() ([]protoField, error) {
	if cv.Prototype == nil {
		return nil, errs.New(errs.FormatInvalid, "compressed vector has no prototype")
	}
	fields := make([]protoField, 0, len(cv.Prototype.names))
	for _, name := range cv.Prototype.names {
		child := cv.Prototype.children[name]
		switch child.NodeType() {
		case TypeInteger, TypeScaledInteger, TypeFloat:
			fields = append(fields, protoField{name: name, node: child})
		default:
			return nil, errs.New(errs.FormatInvalid,
				"prototype field %q has type %s, want Integer, ScaledInteger or Float", name, child.NodeType())
		}
	}
	return fields, nil
}

// protoField is one leaf of a CompressedVector prototype.
type protoField struct {
	name string
	node Node
}

// byteWidth is the on-disk width of one record's worth of this field.
func (f protoField) byteWidth() int {
	if fl, ok := f.node.(*FloatNode); ok && fl.Precision == PrecisionSingle {
		return 4
	}
	return 8
}

// Lookup walks a slash-separated path from node, e.g. "data3D/0/points".
// Numeric components index into vectors.
func Lookup(node Node, path string) (Node, error) {
	current := node
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		switch n := current.(type) {
		case *StructureNode:
			child, ok := n.Get(part)
			if !ok {
				return nil, errs.New(errs.FormatInvalid, "path component %q not found", part)
			}
			current = child
		case *VectorNode:
			i, err := strconv.Atoi(part)
			if err != nil {
				return nil, errs.New(errs.FormatInvalid, "path component %q indexes a vector but is not a number", part)
			}
			child, err := n.At(i)
			if err != nil {
				return nil, err
			}
			current = child
		default:
			return nil, errs.New(errs.FormatInvalid, "path component %q descends into a %s leaf", part, current.NodeType())
		}
	}
	return current, nil
}
