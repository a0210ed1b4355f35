package compiler

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for Smalltalk syntax
// ---------------------------------------------------------------------------

// Parser parses Smalltalk source code into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	errors    []string
	input     string // original source text (for source preservation)
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
		input: input,
	}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// peekTokenIs checks if the peek token is of the given type.
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, p.curToken)
	return false
}

// errorf records a parse error.
func (p *Parser) errorf(format string, args ...interface{}) {
	pos := p.curToken.Pos
	msg := fmt.Sprintf("line %d, column %d: %s", pos.Line, pos.Column, fmt.Sprintf(format, args...))
	p.errors = append(p.errors, msg)
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []string {
	return p.errors
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseExpression parses a single expression.
func (p *Parser) ParseExpression() Expr {
	return p.parseKeywordSend()
}

// ParseStatement parses a single statement.
func (p *Parser) ParseStatement() Stmt {
	if p.curTokenIs(TokenCaret) {
		if r := p.parseReturn(); r != nil {
			return r
		}
		return nil
	}
	expr := p.parseKeywordSend()
	if expr == nil {
		return nil
	}
	return &ExprStmt{Loc: expr.Span(), Expr: expr}
}

// ParseStatements parses statements separated by periods, stopping before
// ], } or the end of input.
func (p *Parser) ParseStatements() []Stmt {
	var stmts []Stmt

	for !p.curTokenIs(TokenEOF) && !p.curTokenIs(TokenRBracket) && !p.curTokenIs(TokenRBrace) {
		stmt := p.ParseStatement()
		if stmt == nil {
			break
		}
		stmts = append(stmts, stmt)

		if !p.curTokenIs(TokenPeriod) {
			break
		}
		for p.curTokenIs(TokenPeriod) {
			p.nextToken()
		}
	}

	return stmts
}

// ParseMethod parses a method in compile: form: the signature, then an
// optional primitive pragma and temporaries, then statements.
func (p *Parser) ParseMethod() *MethodDef {
	startPos := p.curToken.Pos

	selector, params := p.parseMethodSignature()
	if selector == "" {
		return nil
	}
	m := &MethodDef{
		Selector:   selector,
		Parameters: params,
		SourceText: p.input,
	}
	p.parseMethodBody(m)
	if !p.curTokenIs(TokenEOF) {
		p.errorf("unexpected %s after method body", p.curToken)
	}
	m.Loc = MakeSpan(startPos, p.curToken.Pos)
	return m
}

// ParseDoIt parses statements with optional temporaries as the body of an
// argumentless DoIt method.
func (p *Parser) ParseDoIt() *MethodDef {
	startPos := p.curToken.Pos
	m := &MethodDef{Selector: "DoIt", SourceText: p.input}
	p.parseMethodBody(m)
	if !p.curTokenIs(TokenEOF) {
		p.errorf("unexpected %s", p.curToken)
	}
	m.Loc = MakeSpan(startPos, p.curToken.Pos)
	return m
}

// parseMethodBody reads pragmas and temporaries in either order, then the
// statements.
func (p *Parser) parseMethodBody(m *MethodDef) {
	sawTemps := false
	for {
		switch {
		case p.atPrimitivePragma():
			if m.Primitive != 0 {
				p.errorf("duplicate primitive pragma")
			}
			m.Primitive = p.parsePrimitivePragma()
			continue
		case p.curTokenIs(TokenBar) && !sawTemps:
			sawTemps = true
			m.Temps = p.parseTemporaries()
			continue
		}
		break
	}
	m.Statements = p.ParseStatements()
}

func (p *Parser) atPrimitivePragma() bool {
	return p.curTokenIs(TokenBinarySelector) && p.curToken.Literal == "<" &&
		p.peekTokenIs(TokenKeyword) && p.peekToken.Literal == "primitive:"
}

// parsePrimitivePragma parses <primitive: N>.
func (p *Parser) parsePrimitivePragma() int {
	p.nextToken() // consume <
	p.nextToken() // consume primitive:
	n := 0
	if p.curTokenIs(TokenInteger) {
		v, err := strconv.Atoi(p.curToken.Literal)
		if err != nil || v <= 0 || v > 0xFFFF {
			p.errorf("invalid primitive number %s", p.curToken.Literal)
		} else {
			n = v
		}
		p.nextToken()
	} else {
		p.errorf("expected primitive number, got %s", p.curToken)
	}
	if p.curTokenIs(TokenBinarySelector) && p.curToken.Literal == ">" {
		p.nextToken()
	} else {
		p.errorf("expected > to close the primitive pragma")
	}
	return n
}

// parseMethodSignature parses a method signature.
func (p *Parser) parseMethodSignature() (string, []string) {
	switch {
	case p.curTokenIs(TokenIdentifier):
		// Unary method
		selector := p.curToken.Literal
		p.nextToken()
		return selector, nil

	case p.curTokenIs(TokenBinarySelector) || p.curTokenIs(TokenBar):
		// Binary method
		selector := p.curToken.Literal
		p.nextToken()
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected parameter name after binary selector")
			return "", nil
		}
		param := p.curToken.Literal
		p.nextToken()
		return selector, []string{param}

	case p.curTokenIs(TokenKeyword):
		// Keyword method
		var selector strings.Builder
		var params []string
		for p.curTokenIs(TokenKeyword) {
			selector.WriteString(p.curToken.Literal)
			p.nextToken()
			if !p.curTokenIs(TokenIdentifier) {
				p.errorf("expected parameter name after keyword")
				return "", nil
			}
			params = append(params, p.curToken.Literal)
			p.nextToken()
		}
		return selector.String(), params

	default:
		p.errorf("expected method signature, got %s", p.curToken)
		return "", nil
	}
}

// parseTemporaries parses | temp1 temp2 |
func (p *Parser) parseTemporaries() []string {
	p.nextToken() // consume |
	temps := []string{}
	for p.curTokenIs(TokenIdentifier) {
		temps = append(temps, p.curToken.Literal)
		p.nextToken()
	}
	if !p.expect(TokenBar) {
		return nil
	}
	return temps
}

// parseReturn parses ^expr
func (p *Parser) parseReturn() *Return {
	startPos := p.curToken.Pos
	p.nextToken() // consume ^

	value := p.parseKeywordSend()
	if value == nil {
		return nil
	}

	return &Return{
		Loc: MakeSpan(startPos, value.Span().End),
		Value:   value,
	}
}

// ---------------------------------------------------------------------------
// Expression parsing (message precedence)
// ---------------------------------------------------------------------------

// parseKeywordSend parses keyword message sends (lowest precedence) and a
// cascade that follows them.
func (p *Parser) parseKeywordSend() Expr {
	receiver := p.parseBinarySend()
	if receiver == nil {
		return nil
	}

	result := receiver
	if p.curTokenIs(TokenKeyword) {
		result = p.parseKeywordMessage(receiver)
		if result == nil {
			return nil
		}
	}

	if p.curTokenIs(TokenSemicolon) {
		return p.parseCascade(result)
	}
	return result
}

// parseKeywordMessage parses a keyword message with given receiver.
func (p *Parser) parseKeywordMessage(receiver Expr) Expr {
	startPos := receiver.Span().Start

	var selector strings.Builder
	var keywords []string
	var args []Expr

	for p.curTokenIs(TokenKeyword) {
		keyword := p.curToken.Literal
		keywords = append(keywords, keyword)
		selector.WriteString(keyword)
		p.nextToken()

		arg := p.parseBinarySend()
		if arg == nil {
			return nil
		}
		args = append(args, arg)
	}

	return &KeywordMessage{
		Loc:   MakeSpan(startPos, p.curToken.Pos),
		Receiver:  receiver,
		Selector:  selector.String(),
		Keywords:  keywords,
		Arguments: args,
	}
}

// parseBinarySend parses binary message sends (middle precedence).
func (p *Parser) parseBinarySend() Expr {
	left := p.parseUnarySend()
	if left == nil {
		return nil
	}

	// | is a binary selector in expression context
	for p.curTokenIs(TokenBinarySelector) || p.curTokenIs(TokenBar) {
		selector := p.curToken.Literal
		p.nextToken()

		right := p.parseUnarySend()
		if right == nil {
			return nil
		}

		left = &BinaryMessage{
			Loc:  MakeSpan(left.Span().Start, right.Span().End),
			Receiver: left,
			Selector: selector,
			Argument: right,
		}
	}

	return left
}

// parseCascade parses cascaded messages. The cascade's receiver is the
// receiver of the last message in first.
func (p *Parser) parseCascade(first Expr) Expr {
	var receiver Expr
	var messages []CascadedMessage

	switch msg := first.(type) {
	case *UnaryMessage:
		receiver = msg.Receiver
		messages = append(messages, CascadedMessage{Type: UnaryMsg, Selector: msg.Selector})
	case *BinaryMessage:
		receiver = msg.Receiver
		messages = append(messages, CascadedMessage{
			Type:      BinaryMsg,
			Selector:  msg.Selector,
			Arguments: []Expr{msg.Argument},
		})
	case *KeywordMessage:
		receiver = msg.Receiver
		messages = append(messages, CascadedMessage{
			Type:      KeywordMsg,
			Selector:  msg.Selector,
			Arguments: msg.Arguments,
		})
	default:
		p.errorf("cascade requires a message send")
		return nil
	}

	for p.curTokenIs(TokenSemicolon) {
		p.nextToken() // consume ;
		msg := p.parseCascadedMessage()
		if msg == nil {
			return nil
		}
		messages = append(messages, *msg)
	}

	return &Cascade{
		Loc:  MakeSpan(first.Span().Start, p.curToken.Pos),
		Receiver: receiver,
		Messages: messages,
	}
}

// parseCascadedMessage parses a single cascaded message (without receiver).
func (p *Parser) parseCascadedMessage() *CascadedMessage {
	switch {
	case p.curTokenIs(TokenIdentifier):
		selector := p.curToken.Literal
		p.nextToken()
		return &CascadedMessage{Type: UnaryMsg, Selector: selector}

	case p.curTokenIs(TokenBinarySelector) || p.curTokenIs(TokenBar):
		selector := p.curToken.Literal
		p.nextToken()
		arg := p.parseUnarySend()
		if arg == nil {
			return nil
		}
		return &CascadedMessage{Type: BinaryMsg, Selector: selector, Arguments: []Expr{arg}}

	case p.curTokenIs(TokenKeyword):
		var selector strings.Builder
		var args []Expr
		for p.curTokenIs(TokenKeyword) {
			selector.WriteString(p.curToken.Literal)
			p.nextToken()
			arg := p.parseBinarySend()
			if arg == nil {
				return nil
			}
			args = append(args, arg)
		}
		return &CascadedMessage{Type: KeywordMsg, Selector: selector.String(), Arguments: args}

	default:
		p.errorf("expected message in cascade, got %s", p.curToken)
		return nil
	}
}

// parseUnarySend parses unary message sends (highest precedence).
func (p *Parser) parseUnarySend() Expr {
	primary := p.parsePrimary()
	if primary == nil {
		return nil
	}

	for p.curTokenIs(TokenIdentifier) {
		selector := p.curToken.Literal
		p.nextToken()

		primary = &UnaryMessage{
			Loc:  MakeSpan(primary.Span().Start, p.curToken.Pos),
			Receiver: primary,
			Selector: selector,
		}
	}

	return primary
}

// parsePrimary parses primary expressions.
func (p *Parser) parsePrimary() Expr {
	if t, reserved := reservedWords[p.curToken.Literal]; reserved && p.curTokenIs(t) && p.peekTokenIs(TokenAssign) {
		p.errorf("cannot assign to pseudo-variable %s", p.curToken.Literal)
		return nil
	}
	switch p.curToken.Type {
	case TokenInteger:
		return p.parseInteger(false)
	case TokenFloat:
		return p.parseFloat(false)
	case TokenString:
		return p.parseString()
	case TokenSymbol:
		return p.parseSymbol()
	case TokenCharacter:
		return p.parseCharacter()
	case TokenHashLParen:
		return p.parseLiteralArray()
	case TokenHashLBracket:
		return p.parseByteArray()
	case TokenLParen:
		return p.parseParenExpr()
	case TokenLBracket:
		return p.parseBlock()
	case TokenLBrace:
		return p.parseDynamicArray()
	case TokenIdentifier:
		return p.parseIdentifier()
	case TokenBinarySelector:
		if p.atNegativeNumber() {
			return p.parseNegativeNumber()
		}
	case TokenSelf:
		pos := p.advance()
		return &Self{Loc: MakeSpan(pos, p.curToken.Pos)}
	case TokenSuper:
		pos := p.advance()
		return &Super{Loc: MakeSpan(pos, p.curToken.Pos)}
	case TokenThisContext:
		pos := p.advance()
		return &ThisContext{Loc: MakeSpan(pos, p.curToken.Pos)}
	case TokenNil:
		pos := p.advance()
		return &NilLiteral{Loc: MakeSpan(pos, p.curToken.Pos)}
	case TokenTrue:
		pos := p.advance()
		return &TrueLiteral{Loc: MakeSpan(pos, p.curToken.Pos)}
	case TokenFalse:
		pos := p.advance()
		return &FalseLiteral{Loc: MakeSpan(pos, p.curToken.Pos)}
	case TokenError:
		p.errorf("%s", p.curToken.Literal)
		return nil
	}
	p.errorf("unexpected %s", p.curToken)
	return nil
}

// advance consumes the current token and returns its position.
func (p *Parser) advance() Position {
	pos := p.curToken.Pos
	p.nextToken()
	return pos
}

// ---------------------------------------------------------------------------
// Literal parsing
// ---------------------------------------------------------------------------

// atNegativeNumber reports whether the current token is a minus sign
// directly followed by a number, as in -3 or #(-1).
func (p *Parser) atNegativeNumber() bool {
	return p.curToken.Literal == "-" &&
		(p.peekTokenIs(TokenInteger) || p.peekTokenIs(TokenFloat)) &&
		p.curToken.adjacent(p.peekToken)
}

func (p *Parser) parseNegativeNumber() Expr {
	p.nextToken() // consume -
	if p.curTokenIs(TokenFloat) {
		return p.parseFloat(true)
	}
	return p.parseInteger(true)
}

func (p *Parser) parseInteger(negative bool) Expr {
	pos := p.curToken.Pos
	value, err := ParseIntegerLiteral(p.curToken.Literal)
	if err != nil {
		p.errorf("%s", err)
		value = new(big.Int)
	}
	if negative {
		value.Neg(value)
	}
	p.nextToken()
	return &IntLiteral{Loc: MakeSpan(pos, p.curToken.Pos), Value: value}
}

// ParseIntegerLiteral converts integer literal text: decimal digits, an
// optional radix prefix (16r1F) or a decimal exponent (1e6).
func ParseIntegerLiteral(lit string) (*big.Int, error) {
	if i := strings.IndexByte(lit, 'r'); i > 0 {
		radix, err := strconv.Atoi(lit[:i])
		if err != nil || radix < 2 || radix > 36 {
			return nil, fmt.Errorf("invalid radix in %s", lit)
		}
		v, ok := new(big.Int).SetString(lit[i+1:], radix)
		if !ok {
			return nil, fmt.Errorf("invalid digits for radix %d in %s", radix, lit)
		}
		return v, nil
	}
	mantissa, exp := lit, 0
	if i := strings.IndexByte(lit, 'e'); i > 0 {
		n, err := strconv.Atoi(lit[i+1:])
		if err != nil || n > 10000 {
			return nil, fmt.Errorf("invalid exponent in %s", lit)
		}
		mantissa, exp = lit[:i], n
	}
	v, ok := new(big.Int).SetString(mantissa, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %s", lit)
	}
	if exp > 0 {
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
	}
	return v, nil
}

func (p *Parser) parseFloat(negative bool) Expr {
	pos := p.curToken.Pos
	value, err := strconv.ParseFloat(p.curToken.Literal, 64)
	if err != nil {
		p.errorf("invalid float: %s", p.curToken.Literal)
		value = 0
	}
	if negative {
		value = -value
	}
	p.nextToken()
	return &FloatLiteral{Loc: MakeSpan(pos, p.curToken.Pos), Value: value}
}

func (p *Parser) parseString() *StringLiteral {
	pos := p.curToken.Pos
	value := p.curToken.Literal
	p.nextToken()
	return &StringLiteral{Loc: MakeSpan(pos, p.curToken.Pos), Value: value}
}

func (p *Parser) parseSymbol() *SymbolLiteral {
	pos := p.curToken.Pos
	value := p.curToken.Literal
	p.nextToken()
	return &SymbolLiteral{Loc: MakeSpan(pos, p.curToken.Pos), Value: value}
}

func (p *Parser) parseCharacter() *CharLiteral {
	pos := p.curToken.Pos
	value := []rune(p.curToken.Literal)[0]
	p.nextToken()
	return &CharLiteral{Loc: MakeSpan(pos, p.curToken.Pos), Value: value}
}

// parseLiteralArray parses #( ... ) or a nested ( ... ) inside one.
func (p *Parser) parseLiteralArray() Expr {
	pos := p.curToken.Pos
	p.nextToken() // consume #( or (

	var elements []Expr
	for !p.curTokenIs(TokenRParen) && !p.curTokenIs(TokenEOF) {
		elem := p.parseLiteralArrayElement()
		if elem == nil {
			return nil
		}
		elements = append(elements, elem)
	}

	if !p.expect(TokenRParen) {
		return nil
	}
	return &ArrayLiteral{Loc: MakeSpan(pos, p.curToken.Pos), Elements: elements}
}

func (p *Parser) parseLiteralArrayElement() Expr {
	pos := p.curToken.Pos
	switch p.curToken.Type {
	case TokenInteger:
		return p.parseInteger(false)
	case TokenFloat:
		return p.parseFloat(false)
	case TokenString:
		return p.parseString()
	case TokenSymbol:
		return p.parseSymbol()
	case TokenCharacter:
		return p.parseCharacter()
	case TokenIdentifier:
		// bare identifiers are symbols
		value := p.curToken.Literal
		p.nextToken()
		return &SymbolLiteral{Loc: MakeSpan(pos, p.curToken.Pos), Value: value}
	case TokenKeyword:
		// adjacent keywords form one symbol: at:put:
		var sb strings.Builder
		sb.WriteString(p.curToken.Literal)
		for p.peekTokenIs(TokenKeyword) && p.curToken.adjacent(p.peekToken) {
			p.nextToken()
			sb.WriteString(p.curToken.Literal)
		}
		p.nextToken()
		return &SymbolLiteral{Loc: MakeSpan(pos, p.curToken.Pos), Value: sb.String()}
	case TokenBinarySelector, TokenBar:
		if p.atNegativeNumber() {
			return p.parseNegativeNumber()
		}
		value := p.curToken.Literal
		p.nextToken()
		return &SymbolLiteral{Loc: MakeSpan(pos, p.curToken.Pos), Value: value}
	case TokenHashLParen, TokenLParen:
		return p.parseLiteralArray()
	case TokenHashLBracket:
		return p.parseByteArray()
	case TokenNil:
		p.nextToken()
		return &NilLiteral{Loc: MakeSpan(pos, p.curToken.Pos)}
	case TokenTrue:
		p.nextToken()
		return &TrueLiteral{Loc: MakeSpan(pos, p.curToken.Pos)}
	case TokenFalse:
		p.nextToken()
		return &FalseLiteral{Loc: MakeSpan(pos, p.curToken.Pos)}
	default:
		p.errorf("unexpected %s in literal array", p.curToken)
		return nil
	}
}

// parseByteArray parses #[1 2 255].
func (p *Parser) parseByteArray() Expr {
	pos := p.curToken.Pos
	p.nextToken() // consume #[

	var bytes []byte
	for p.curTokenIs(TokenInteger) {
		v, err := strconv.Atoi(p.curToken.Literal)
		if err != nil || v < 0 || v > 255 {
			p.errorf("byte array element %s out of range", p.curToken.Literal)
			return nil
		}
		bytes = append(bytes, byte(v))
		p.nextToken()
	}
	if !p.expect(TokenRBracket) {
		return nil
	}
	return &ByteArrayLiteral{Loc: MakeSpan(pos, p.curToken.Pos), Value: bytes}
}

func (p *Parser) parseParenExpr() Expr {
	p.nextToken() // consume (
	expr := p.parseKeywordSend()
	if expr == nil || !p.expect(TokenRParen) {
		return nil
	}
	return expr
}

func (p *Parser) parseDynamicArray() Expr {
	pos := p.curToken.Pos
	p.nextToken() // consume {

	var elements []Expr
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		elem := p.parseKeywordSend()
		if elem == nil {
			return nil
		}
		elements = append(elements, elem)
		if p.curTokenIs(TokenPeriod) {
			p.nextToken()
		} else if !p.curTokenIs(TokenRBrace) {
			break
		}
	}

	if !p.expect(TokenRBrace) {
		return nil
	}
	return &DynamicArray{Loc: MakeSpan(pos, p.curToken.Pos), Elements: elements}
}

func (p *Parser) parseBlock() Expr {
	pos := p.curToken.Pos
	p.nextToken() // consume [

	// Parse block parameters :x :y |
	var params []string
	for p.curTokenIs(TokenColon) {
		p.nextToken() // consume :
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected parameter name after :")
			return nil
		}
		params = append(params, p.curToken.Literal)
		p.nextToken()
	}

	if len(params) > 0 && !p.curTokenIs(TokenRBracket) {
		if !p.expect(TokenBar) {
			return nil
		}
	}

	var temps []string
	if p.curTokenIs(TokenBar) {
		temps = p.parseTemporaries()
	}

	stmts := p.ParseStatements()

	if !p.expect(TokenRBracket) {
		return nil
	}

	return &Block{
		Loc:    MakeSpan(pos, p.curToken.Pos),
		Parameters: params,
		Temps:      temps,
		Statements: stmts,
	}
}

func (p *Parser) parseIdentifier() Expr {
	pos := p.curToken.Pos
	name := p.curToken.Literal
	p.nextToken()

	v := &Variable{Loc: MakeSpan(pos, p.curToken.Pos), Name: name}
	if !p.curTokenIs(TokenAssign) {
		return v
	}

	p.nextToken() // consume :=
	value := p.parseKeywordSend()
	if value == nil {
		return nil
	}
	return &Assignment{
		Loc:  MakeSpan(pos, value.Span().End),
		Variable: v,
		Value:    value,
	}
}

// ---------------------------------------------------------------------------
// Source file parsing (class definitions)
// ---------------------------------------------------------------------------

// ParseSourceFile parses a file of class definitions and extensions.
//
// File format:
//
//	Point subclass: Object
//	  instanceVars: x y
//	  classVars: Origin
//	  indexed: pointers
//	  category: 'Graphics'
//
//	  classMethod: x: ax y: ay [ ^self new setX: ax y: ay ]
//	  method: x [ ^x ]
//
//	Integer extend
//	  method: double [ ^self * 2 ]
func (p *Parser) ParseSourceFile() *SourceFile {
	startPos := p.curToken.Pos
	sf := &SourceFile{}

	for !p.curTokenIs(TokenEOF) {
		if !p.atClassHeader() {
			p.errorf("expected class definition, got %s", p.curToken)
			p.skipToClassHeader()
			continue
		}
		if cd := p.parseClassDef(); cd != nil {
			sf.Classes = append(sf.Classes, cd)
		}
	}

	sf.Loc = MakeSpan(startPos, p.curToken.Pos)
	return sf
}

// atClassHeader reports whether the parser is at "Name subclass:" or
// "Name extend".
func (p *Parser) atClassHeader() bool {
	if !p.curTokenIs(TokenIdentifier) {
		return false
	}
	return (p.peekTokenIs(TokenKeyword) && p.peekToken.Literal == "subclass:") ||
		(p.peekTokenIs(TokenIdentifier) && p.peekToken.Literal == "extend")
}

func (p *Parser) skipToClassHeader() {
	for !p.curTokenIs(TokenEOF) && !p.atClassHeader() {
		p.nextToken()
	}
}

// skipToClassElement resynchronizes after an error inside a class body.
func (p *Parser) skipToClassElement() {
	for !p.curTokenIs(TokenEOF) && !p.atClassHeader() {
		if p.curTokenIs(TokenKeyword) && classElements[p.curToken.Literal] {
			return
		}
		p.nextToken()
	}
}

var classElements = map[string]bool{
	"instanceVars:":          true,
	"instanceVariableNames:": true,
	"classVars:":             true,
	"classVariableNames:":    true,
	"indexed:":               true,
	"category:":              true,
	"method:":                true,
	"classMethod:":           true,
}

// parseClassDef parses a class header and its body.
func (p *Parser) parseClassDef() *ClassDef {
	startPos := p.curToken.Pos
	cd := &ClassDef{Name: p.curToken.Literal}
	p.nextToken()

	if p.curToken.Literal == "extend" {
		cd.Extend = true
		p.nextToken()
	} else {
		p.nextToken() // consume subclass:
		switch {
		case p.curTokenIs(TokenIdentifier):
			cd.Superclass = p.curToken.Literal
			p.nextToken()
		case p.curTokenIs(TokenNil):
			cd.Superclass = "nil"
			p.nextToken()
		default:
			p.errorf("expected superclass name after 'subclass:'")
			p.skipToClassHeader()
			return nil
		}
	}

	for !p.curTokenIs(TokenEOF) && !p.atClassHeader() {
		if !p.curTokenIs(TokenKeyword) {
			p.errorf("unexpected %s in definition of %s", p.curToken, cd.Name)
			p.nextToken()
			p.skipToClassElement()
			continue
		}
		switch p.curToken.Literal {
		case "instanceVars:", "instanceVariableNames:":
			cd.InstanceVariables = append(cd.InstanceVariables, p.parseNameList()...)
		case "classVars:", "classVariableNames:":
			cd.ClassVariables = append(cd.ClassVariables, p.parseNameList()...)
		case "indexed:":
			p.nextToken()
			switch lit := p.curToken.Literal; lit {
			case "pointers", "bytes", "words":
				cd.Indexed = lit
				p.nextToken()
			default:
				p.errorf("indexed: expects pointers, bytes or words")
			}
		case "category:":
			p.nextToken()
			if p.curTokenIs(TokenString) || p.curTokenIs(TokenIdentifier) || p.curTokenIs(TokenSymbol) {
				cd.Category = p.curToken.Literal
				p.nextToken()
			} else {
				p.errorf("expected category name")
			}
		case "method:", "classMethod:":
			classSide := p.curToken.Literal == "classMethod:"
			errs := len(p.errors)
			m := p.parseMethodInBrackets()
			if m == nil || len(p.errors) > errs {
				p.skipToClassElement()
				continue
			}
			if classSide {
				cd.ClassMethods = append(cd.ClassMethods, m)
			} else {
				cd.Methods = append(cd.Methods, m)
			}
		default:
			p.errorf("unknown class element %s in definition of %s", p.curToken.Literal, cd.Name)
			p.nextToken()
			p.skipToClassElement()
		}
	}

	cd.Loc = MakeSpan(startPos, p.curToken.Pos)
	return cd
}

// parseNameList parses variable names given as identifiers or as one
// string: instanceVars: x y, or instanceVariableNames: 'x y'.
func (p *Parser) parseNameList() []string {
	p.nextToken() // consume the keyword

	if p.curTokenIs(TokenString) {
		names := strings.Fields(p.curToken.Literal)
		p.nextToken()
		return names
	}

	var names []string
	for p.curTokenIs(TokenIdentifier) && !p.atClassHeader() {
		names = append(names, p.curToken.Literal)
		p.nextToken()
	}
	return names
}

// parseMethodInBrackets parses method: selector [ body ]. The method keeps
// its source in compile: form, the signature followed by the body.
func (p *Parser) parseMethodInBrackets() *MethodDef {
	startPos := p.curToken.Pos
	p.nextToken() // consume "method:" or "classMethod:"

	sigStart := p.curToken.Pos.Offset
	selector, params := p.parseMethodSignature()
	if selector == "" {
		return nil
	}

	if !p.curTokenIs(TokenLBracket) {
		p.errorf("expected '[' after method signature")
		return nil
	}
	sigEnd := p.curToken.Pos.Offset
	bodyStart := p.curToken.End
	p.nextToken() // consume [

	m := &MethodDef{Selector: selector, Parameters: params}
	p.parseMethodBody(m)

	if !p.curTokenIs(TokenRBracket) {
		p.errorf("expected ']' to close method %s, got %s", selector, p.curToken)
		return nil
	}
	bodyEnd := p.curToken.Pos.Offset
	p.nextToken() // consume ]

	m.SourceText = strings.TrimSpace(p.input[sigStart:sigEnd]) + "\n\t" +
		strings.TrimSpace(p.input[bodyStart:bodyEnd])
	m.Loc = MakeSpan(startPos, p.curToken.Pos)
	return m
}
