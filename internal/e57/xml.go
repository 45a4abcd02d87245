package e57

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/pointscape/pointscape/internal/errs"
)

const e57Namespace = "http://www.astm.org/COMMIT/E57/2010-e57-v1.0"

// xmlElement is the generic wire shape of every node in the XML section.
// The element name carries the node's name in its parent; the type attribute
// selects the variant.
type xmlElement struct {
	XMLName     xml.Name
	Xmlns       string       `xml:"xmlns,attr,omitempty"`
	Type        string       `xml:"type,attr"`
	Precision   string       `xml:"precision,attr,omitempty"`
	Minimum     string       `xml:"minimum,attr,omitempty"`
	Maximum     string       `xml:"maximum,attr,omitempty"`
	Scale       string       `xml:"scale,attr,omitempty"`
	Offset      string       `xml:"offset,attr,omitempty"`
	FileOffset  string       `xml:"fileOffset,attr,omitempty"`
	RecordCount string       `xml:"recordCount,attr,omitempty"`
	Length      string       `xml:"length,attr,omitempty"`
	AllowHetero string       `xml:"allowHeterogeneousChildren,attr,omitempty"`
	Value       string       `xml:",chardata"`
	Children    []xmlElement `xml:",any"`
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
func formatInt(v int64) string     { return strconv.FormatInt(v, 10) }

// marshalNode converts a tree node into its wire element.
func marshalNode(name string, n Node) xmlElement {
	el := xmlElement{XMLName: xml.Name{Local: name}, Type: n.NodeType().String()}
	switch node := n.(type) {
	case *StructureNode:
		for _, childName := range node.names {
			el.Children = append(el.Children, marshalNode(childName, node.children[childName]))
		}
	case *VectorNode:
		if node.AllowHeterogeneous {
			el.AllowHetero = "1"
		} else {
			el.AllowHetero = "0"
		}
		for _, child := range node.children {
			el.Children = append(el.Children, marshalNode("vectorChild", child))
		}
	case *CompressedVectorNode:
		el.FileOffset = formatInt(node.fileOffset)
		el.RecordCount = formatInt(node.recordCount)
		if node.Prototype != nil {
			el.Children = append(el.Children, marshalNode("prototype", node.Prototype))
		}
		if node.Codecs != nil {
			el.Children = append(el.Children, marshalNode("codecs", node.Codecs))
		}
	case *IntegerNode:
		el.Minimum = formatInt(node.Min)
		el.Maximum = formatInt(node.Max)
		el.Value = formatInt(node.Value)
	case *ScaledIntegerNode:
		el.Minimum = formatInt(node.Min)
		el.Maximum = formatInt(node.Max)
		el.Scale = formatFloat(node.Scale)
		el.Offset = formatFloat(node.Offset)
		el.Value = formatInt(node.Raw)
	case *FloatNode:
		if node.Precision == PrecisionSingle {
			el.Precision = "single"
		} else {
			el.Precision = "double"
		}
		el.Minimum = formatFloat(node.Min)
		el.Maximum = formatFloat(node.Max)
		el.Value = formatFloat(node.Value)
	case *StringNode:
		el.Value = node.Value
	case *BlobNode:
		el.FileOffset = formatInt(node.FileOffset)
		el.Length = formatInt(node.Length)
	}
	return el
}

// serializeXML renders the root structure as the file's XML section.
func serializeXML(root *StructureNode) ([]byte, error) {
	el := marshalNode("e57Root", root)
	el.Xmlns = e57Namespace
	body, err := xml.Marshal(el)
	if err != nil {
		return nil, errs.Wrap(errs.FormatInvalid, err, "serializing XML section")
	}
	return append([]byte(xml.Header), body...), nil
}

// parseXML decodes the XML section back into a node tree owned by f.
func parseXML(data []byte, f *File) (*StructureNode, error) {
	var el xmlElement
	if err := xml.Unmarshal(data, &el); err != nil {
		return nil, errs.Wrap(errs.FormatInvalid, err, "parsing XML section")
	}
	node, err := unmarshalElement(el, f)
	if err != nil {
		return nil, err
	}
	root, ok := node.(*StructureNode)
	if !ok {
		return nil, errs.New(errs.FormatInvalid, "root element is %s, want Structure", node.NodeType())
	}
	return root, nil
}

func unmarshalElement(el xmlElement, f *File) (Node, error) {
	switch el.Type {
	case "Structure":
		s := NewStructure()
		for _, child := range el.Children {
			node, err := unmarshalElement(child, f)
			if err != nil {
				return nil, err
			}
			if err := s.Set(child.XMLName.Local, node); err != nil {
				return nil, err
			}
		}
		return s, nil

	case "Vector":
		v := &VectorNode{AllowHeterogeneous: el.AllowHetero == "1"}
		for _, child := range el.Children {
			node, err := unmarshalElement(child, f)
			if err != nil {
				return nil, err
			}
			v.Append(node)
		}
		return v, nil

	case "CompressedVector":
		cv := &CompressedVectorNode{file: f}
		var err error
		if cv.fileOffset, err = parseIntAttr(el.FileOffset, "fileOffset"); err != nil {
			return nil, err
		}
		if cv.recordCount, err = parseIntAttr(el.RecordCount, "recordCount"); err != nil {
			return nil, err
		}
		for _, child := range el.Children {
			node, err := unmarshalElement(child, f)
			if err != nil {
				return nil, err
			}
			switch child.XMLName.Local {
			case "prototype":
				proto, ok := node.(*StructureNode)
				if !ok {
					return nil, errs.New(errs.FormatInvalid, "compressed vector prototype is %s, want Structure", node.NodeType())
				}
				cv.Prototype = proto
			case "codecs":
				codecs, ok := node.(*VectorNode)
				if !ok {
					return nil, errs.New(errs.FormatInvalid, "compressed vector codecs is %s, want Vector", node.NodeType())
				}
				cv.Codecs = codecs
			default:
				return nil, errs.New(errs.FormatInvalid, "unexpected compressed vector child %q", child.XMLName.Local)
			}
		}
		return cv, nil

	case "Integer":
		n := &IntegerNode{}
		var err error
		if n.Value, err = parseIntValue(el.Value); err != nil {
			return nil, err
		}
		if el.Minimum != "" {
			if n.Min, err = parseIntAttr(el.Minimum, "minimum"); err != nil {
				return nil, err
			}
		}
		if el.Maximum != "" {
			if n.Max, err = parseIntAttr(el.Maximum, "maximum"); err != nil {
				return nil, err
			}
		}
		return n, nil

	case "ScaledInteger":
		n := &ScaledIntegerNode{Scale: 1}
		var err error
		if n.Raw, err = parseIntValue(el.Value); err != nil {
			return nil, err
		}
		if el.Minimum != "" {
			if n.Min, err = parseIntAttr(el.Minimum, "minimum"); err != nil {
				return nil, err
			}
		}
		if el.Maximum != "" {
			if n.Max, err = parseIntAttr(el.Maximum, "maximum"); err != nil {
				return nil, err
			}
		}
		if el.Scale != "" {
			if n.Scale, err = parseFloatAttr(el.Scale, "scale"); err != nil {
				return nil, err
			}
		}
		if el.Offset != "" {
			if n.Offset, err = parseFloatAttr(el.Offset, "offset"); err != nil {
				return nil, err
			}
		}
		return n, nil

	case "Float":
		n := &FloatNode{}
		if el.Precision == "single" {
			n.Precision = PrecisionSingle
		}
		var err error
		if v := strings.TrimSpace(el.Value); v != "" {
			if n.Value, err = parseFloatAttr(v, "value"); err != nil {
				return nil, err
			}
		}
		if el.Minimum != "" {
			if n.Min, err = parseFloatAttr(el.Minimum, "minimum"); err != nil {
				return nil, err
			}
		}
		if el.Maximum != "" {
			if n.Max, err = parseFloatAttr(el.Maximum, "maximum"); err != nil {
				return nil, err
			}
		}
		return n, nil

	case "String":
		return &StringNode{Value: el.Value}, nil

	case "Blob":
		n := &BlobNode{}
		var err error
		if n.FileOffset, err = parseIntAttr(el.FileOffset, "fileOffset"); err != nil {
			return nil, err
		}
		if n.Length, err = parseIntAttr(el.Length, "length"); err != nil {
			return nil, err
		}
		return n, nil

	default:
		return nil, errs.New(errs.FormatInvalid, "element %q has unknown type %q", el.XMLName.Local, el.Type)
	}
}

func parseIntAttr(s, attr string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errs.New(errs.FormatInvalid, "invalid %s attribute %q", attr, s)
	}
	return v, nil
}

func parseIntValue(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, errs.New(errs.FormatInvalid, "invalid integer value %q", s)
	}
	return v, nil
}

func parseFloatAttr(s, attr string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errs.New(errs.FormatInvalid, "invalid %s attribute %q", attr, s)
	}
	return v, nil
}
