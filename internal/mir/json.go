package mir

import (
	"fmt"
	"io"
	"os"

	"github.com/segmentio/encoding/json"
)

// JSON 中省略的寄存器字段表示 NoReg

type instJSON struct {
	Op      Op       `json:"op"`
	Dest    *Reg     `json:"dest,omitempty"`
	Type    Type     `json:"type"`
	Args    []Reg    `json:"args,omitempty"`
	Const   *Value   `json:"const,omitempty"`
	From    Type     `json:"from,omitempty"`
	Callee  FuncID   `json:"callee,omitempty"`
	Global  GlobalID `json:"global,omitempty"`
	Message string   `json:"message,omitempty"`
}

// MarshalJSON 实现 json.Marshaler
func (in Inst) MarshalJSON() ([]byte, error) {
	out := instJSON{
		Op:      in.Op,
		Type:    in.Type,
		Args:    in.Args,
		From:    in.From,
		Callee:  in.Callee,
		Global:  in.Global,
		Message: in.Message,
	}
	if in.HasDest() {
		d := in.Dest
		out.Dest = &d
	}
	if in.Op == OpConst {
		c := in.Const
		out.Const = &c
	}
	return json.Marshal(out)
}

// UnmarshalJSON 实现 json.Unmarshaler
func (in *Inst) UnmarshalJSON(b []byte) error {
	var raw instJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*in = Inst{
		Op:      raw.Op,
		Dest:    NoReg,
		Type:    raw.Type,
		Args:    raw.Args,
		From:    raw.From,
		Callee:  raw.Callee,
		Global:  raw.Global,
		Message: raw.Message,
	}
	if raw.Dest != nil {
		in.Dest = *raw.Dest
	}
	if raw.Const != nil {
		in.Const = *raw.Const
	}
	return nil
}

type termJSON struct {
	Kind    TermKind     `json:"kind"`
	Target  *BlockID     `json:"target,omitempty"`
	Cond    *Reg         `json:"cond,omitempty"`
	Then    *BlockID     `json:"then,omitempty"`
	Else    *BlockID     `json:"else,omitempty"`
	Cases   []SwitchCase `json:"cases,omitempty"`
	Default *BlockID     `json:"default,omitempty"`
	Value   *Reg         `json:"value,omitempty"`
}

// MarshalJSON 实现 json.Marshaler
func (t Term) MarshalJSON() ([]byte, error) {
	out := termJSON{Kind: t.Kind}
	switch t.Kind {
	case TermBr:
		out.Target = &t.Target
	case TermCondBr:
		out.Cond, out.Then, out.Else = &t.Cond, &t.Then, &t.Else
	case TermSwitch:
		out.Cond, out.Cases, out.Default = &t.Cond, t.Cases, &t.Default
	case TermRet:
		if t.Value != NoReg {
			out.Value = &t.Value
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON 实现 json.Unmarshaler
func (t *Term) UnmarshalJSON(b []byte) error {
	var raw termJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*t = Term{Kind: raw.Kind, Cases: raw.Cases, Value: NoReg}
	if raw.Target != nil {
		t.Target = *raw.Target
	}
	if raw.Cond != nil {
		t.Cond = *raw.Cond
	}
	if raw.Then != nil {
		t.Then = *raw.Then
	}
	if raw.Else != nil {
		t.Else = *raw.Else
	}
	if raw.Default != nil {
		t.Default = *raw.Default
	}
	if raw.Value != nil {
		t.Value = *raw.Value
	}
	return nil
}

// DecodeModule 从 JSON 读取模块
func DecodeModule(r io.Reader) (*Module, error) {
	var m Module
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode module: %w", err)
	}
	m.Reindex()
	return &m, nil
}

// LoadModule 从 JSON 文件读取模块
func LoadModule(path string) (*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open module file: %w", err)
	}
	defer f.Close()
	return DecodeModule(f)
}

// EncodeModule 将模块写为 JSON
func EncodeModule(w io.Writer, m *Module) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode module: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
