package compiler

import "math/big"

// Position is a point in the source: byte offset plus 1-based line and column.
type Position struct {
	Offset int
	Line   int
	Column int
}

type Span struct {
	Start Position
	End   Position
}

// MakeSpan returns the span from start to end.
func MakeSpan(start, end Position) Span {
	return Span{Start: start, End: end}
}

// Node is anything the parser produces. Every node records where it came
// from in Loc.
type Node interface {
	Span() Span
}

// Expr nodes leave exactly one value on the stack when compiled.
type Expr interface {
	Node
	isExpr()
}

// Stmt nodes make up method and block bodies.
type Stmt interface {
	Node
	isStmt()
}

// Literals.

// IntLiteral holds integers of any size; codegen picks SmallInt or
// LargeInteger.
type IntLiteral struct {
	Loc   Span
	Value *big.Int
}

type FloatLiteral struct {
	Loc   Span
	Value float64
}

type StringLiteral struct {
	Loc   Span
	Value string
}

// SymbolLiteral is #foo, #+ or #at:put:.
type SymbolLiteral struct {
	Loc   Span
	Value string
}

type CharLiteral struct {
	Loc   Span
	Value rune
}

// ArrayLiteral is #( ... ). Elements are themselves literals, nested
// arrays included.
type ArrayLiteral struct {
	Loc      Span
	Elements []Expr
}

type ByteArrayLiteral struct {
	Loc   Span
	Value []byte
}

// DynamicArray is { a. b. c }, built at run time.
type DynamicArray struct {
	Loc      Span
	Elements []Expr
}

type NilLiteral struct{ Loc Span }
type TrueLiteral struct{ Loc Span }
type FalseLiteral struct{ Loc Span }

// Names.

// Variable is resolved by codegen to a temp, instance variable, outer
// block temp or global.
type Variable struct {
	Loc  Span
	Name string
}

type Self struct{ Loc Span }
type Super struct{ Loc Span }
type ThisContext struct{ Loc Span }

type Assignment struct {
	Loc      Span
	Variable *Variable
	Value    Expr
}

// Sends.

type UnaryMessage struct {
	Loc      Span
	Receiver Expr
	Selector string
}

type BinaryMessage struct {
	Loc      Span
	Receiver Expr
	Selector string
	Argument Expr
}

// KeywordMessage keeps both the joined selector ("at:put:") and its parts
// ("at:", "put:").
type KeywordMessage struct {
	Loc       Span
	Receiver  Expr
	Selector  string
	Keywords  []string
	Arguments []Expr
}

// Cascade sends every message to the value of Receiver, answering the
// result of the last one.
type Cascade struct {
	Loc      Span
	Receiver Expr
	Messages []CascadedMessage
}

type CascadedMessage struct {
	Type      MessageType
	Selector  string
	Arguments []Expr // empty for unary
}

type MessageType int

const (
	UnaryMsg MessageType = iota
	BinaryMsg
	KeywordMsg
)

type Block struct {
	Loc        Span
	Parameters []string
	Temps      []string
	Statements []Stmt
}

// Statements.

type ExprStmt struct {
	Loc  Span
	Expr Expr
}

// Return is ^expr. Inside a block it returns from the home method.
type Return struct {
	Loc   Span
	Value Expr
}

// Definitions.

// MethodDef is one compiled unit. Primitive is 0 unless the body opens
// with <primitive: n>; SourceText is kept for the changes journal and
// disasm --source.
type MethodDef struct {
	Loc        Span
	Selector   string
	Parameters []string
	Temps      []string
	Statements []Stmt
	Primitive  int
	SourceText string
}

// ClassDef comes from a `Name subclass: Super ...` or `Name extend`
// chunk in a source file. Superclass "nil" makes a root class; Indexed is
// "", "pointers", "bytes" or "words".
type ClassDef struct {
	Loc               Span
	Name              string
	Superclass        string
	Extend            bool
	InstanceVariables []string
	ClassVariables    []string
	Indexed           string
	Category          string
	Methods           []*MethodDef
	ClassMethods      []*MethodDef
}

type SourceFile struct {
	Loc     Span
	Classes []*ClassDef
}

func (n *IntLiteral) Span() Span       { return n.Loc }
func (n *FloatLiteral) Span() Span     { return n.Loc }
func (n *StringLiteral) Span() Span    { return n.Loc }
func (n *SymbolLiteral) Span() Span    { return n.Loc }
func (n *CharLiteral) Span() Span      { return n.Loc }
func (n *ArrayLiteral) Span() Span     { return n.Loc }
func (n *ByteArrayLiteral) Span() Span { return n.Loc }
func (n *DynamicArray) Span() Span     { return n.Loc }
func (n *NilLiteral) Span() Span       { return n.Loc }
func (n *TrueLiteral) Span() Span      { return n.Loc }
func (n *FalseLiteral) Span() Span     { return n.Loc }
func (n *Variable) Span() Span         { return n.Loc }
func (n *Self) Span() Span             { return n.Loc }
func (n *Super) Span() Span            { return n.Loc }
func (n *ThisContext) Span() Span      { return n.Loc }
func (n *Assignment) Span() Span       { return n.Loc }
func (n *UnaryMessage) Span() Span     { return n.Loc }
func (n *BinaryMessage) Span() Span    { return n.Loc }
func (n *KeywordMessage) Span() Span   { return n.Loc }
func (n *Cascade) Span() Span          { return n.Loc }
func (n *Block) Span() Span            { return n.Loc }
func (n *ExprStmt) Span() Span         { return n.Loc }
func (n *Return) Span() Span           { return n.Loc }
func (n *MethodDef) Span() Span        { return n.Loc }
func (n *ClassDef) Span() Span         { return n.Loc }
func (n *SourceFile) Span() Span       { return n.Loc }

func (*IntLiteral) isExpr()       {}
func (*FloatLiteral) isExpr()     {}
func (*StringLiteral) isExpr()    {}
func (*SymbolLiteral) isExpr()    {}
func (*CharLiteral) isExpr()      {}
func (*ArrayLiteral) isExpr()     {}
func (*ByteArrayLiteral) isExpr() {}
func (*DynamicArray) isExpr()     {}
func (*NilLiteral) isExpr()       {}
func (*TrueLiteral) isExpr()      {}
func (*FalseLiteral) isExpr()     {}
func (*Variable) isExpr()         {}
func (*Self) isExpr()             {}
func (*Super) isExpr()            {}
func (*ThisContext) isExpr()      {}
func (*Assignment) isExpr()       {}
func (*UnaryMessage) isExpr()     {}
func (*BinaryMessage) isExpr()    {}
func (*KeywordMessage) isExpr()   {}
func (*Cascade) isExpr()          {}
func (*Block) isExpr()            {}

func (*ExprStmt) isStmt() {}
func (*Return) isStmt()   {}
