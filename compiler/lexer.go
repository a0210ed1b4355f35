package compiler

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for Smalltalk syntax
// ---------------------------------------------------------------------------

// Lexer tokenizes Smalltalk source code.
type Lexer struct {
	input     string
	pos       int  // current position in input
	readPos   int  // reading position (after current char)
	ch        rune // current character
	line      int  // current line (1-based)
	lineStart int  // offset of current line start
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.lineStart = l.readPos
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = len(l.input)
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
}

// peekAt returns the character n runes past the current one.
func (l *Lexer) peekAt(n int) rune {
	off := l.readPos
	var r rune
	for ; n > 0; n-- {
		if off >= len(l.input) {
			return 0
		}
		var size int
		r, size = utf8.DecodeRuneInString(l.input[off:])
		off += size
	}
	return r
}

func (l *Lexer) peekChar() rune { return l.peekAt(1) }

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.pos - l.lineStart + 1,
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	if err := l.skipWhitespaceAndComments(); err != nil {
		return *err
	}
	tok := l.scan()
	tok.End = l.pos
	return tok
}

func (l *Lexer) scan() Token {
	pos := l.position()
	single := func(t TokenType) Token {
		lit := string(l.ch)
		l.readChar()
		return Token{Type: t, Literal: lit, Pos: pos}
	}

	switch {
	case l.ch == 0:
		return Token{Type: TokenEOF, Pos: pos}
	case l.ch == '(':
		return single(TokenLParen)
	case l.ch == ')':
		return single(TokenRParen)
	case l.ch == '[':
		return single(TokenLBracket)
	case l.ch == ']':
		return single(TokenRBracket)
	case l.ch == '{':
		return single(TokenLBrace)
	case l.ch == '}':
		return single(TokenRBrace)
	case l.ch == '^':
		return single(TokenCaret)
	case l.ch == '.':
		return single(TokenPeriod)
	case l.ch == ';':
		return single(TokenSemicolon)
	case l.ch == '|':
		return single(TokenBar)
	case l.ch == ':':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return Token{Type: TokenAssign, Literal: ":=", Pos: pos}
		}
		return Token{Type: TokenColon, Literal: ":", Pos: pos}
	case l.ch == '#':
		return l.readHashToken(pos)
	case l.ch == '\'':
		s, ok := l.readQuoted()
		if !ok {
			return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
		}
		return Token{Type: TokenString, Literal: s, Pos: pos}
	case l.ch == '$':
		return l.readCharacter(pos)
	case isDigit(l.ch):
		return l.readNumber(pos)
	case isLetter(l.ch) || l.ch == '_':
		return l.readIdentifierOrKeyword(pos)
	case IsBinaryChar(l.ch):
		return l.readBinarySelector(pos)
	default:
		ch := l.ch
		l.readChar()
		return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character: %c", ch), Pos: pos}
	}
}

// skipWhitespaceAndComments skips whitespace and "..." comments. An
// unterminated comment is reported as an error token.
func (l *Lexer) skipWhitespaceAndComments() *Token {
	for {
		for unicode.IsSpace(l.ch) {
			l.readChar()
		}
		if l.ch != '"' {
			return nil
		}
		pos := l.position()
		l.readChar()
		for l.ch != '"' && l.ch != 0 {
			l.readChar()
		}
		if l.ch == 0 {
			return &Token{Type: TokenError, Literal: "unterminated comment", Pos: pos, End: l.pos}
		}
		l.readChar()
	}
}

// readHashToken reads a token starting with #.
func (l *Lexer) readHashToken(pos Position) Token {
	l.readChar() // consume #

	switch {
	case l.ch == '(':
		l.readChar()
		return Token{Type: TokenHashLParen, Literal: "#(", Pos: pos}
	case l.ch == '[':
		l.readChar()
		return Token{Type: TokenHashLBracket, Literal: "#[", Pos: pos}
	case l.ch == '\'':
		s, ok := l.readQuoted()
		if !ok {
			return Token{Type: TokenError, Literal: "unterminated symbol", Pos: pos}
		}
		return Token{Type: TokenSymbol, Literal: s, Pos: pos}
	case isLetter(l.ch) || l.ch == '_':
		return l.readSymbol(pos)
	case IsBinaryChar(l.ch):
		start := l.pos
		for IsBinaryChar(l.ch) {
			l.readChar()
		}
		return Token{Type: TokenSymbol, Literal: l.input[start:l.pos], Pos: pos}
	default:
		return Token{Type: TokenError, Literal: "# must start a literal", Pos: pos}
	}
}

// readSymbol reads a unary or keyword symbol: #foo, #at:put:.
func (l *Lexer) readSymbol(pos Position) Token {
	start := l.pos
	for {
		for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
			l.readChar()
		}
		if l.ch != ':' {
			break
		}
		l.readChar()
		if !isLetter(l.ch) && l.ch != '_' {
			break
		}
	}
	return Token{Type: TokenSymbol, Literal: l.input[start:l.pos], Pos: pos}
}

// readQuoted reads '...' with '' standing for one quote. It reports false
// when the input ends first.
func (l *Lexer) readQuoted() (string, bool) {
	l.readChar() // consume opening '

	var sb strings.Builder
	for l.ch != 0 {
		if l.ch == '\'' {
			if l.peekChar() != '\'' {
				l.readChar()
				return sb.String(), true
			}
			l.readChar()
		}
		sb.WriteRune(l.ch)
		l.readChar()
	}
	return sb.String(), false
}

// readCharacter reads a character literal. Any character may follow $,
// including space and quotes.
func (l *Lexer) readCharacter(pos Position) Token {
	l.readChar() // consume $
	if l.pos >= len(l.input) {
		return Token{Type: TokenError, Literal: "unexpected EOF in character literal", Pos: pos}
	}
	ch := l.ch
	l.readChar()
	return Token{Type: TokenCharacter, Literal: string(ch), Pos: pos}
}

// readNumber reads an integer or float literal: 42, 16r1F, 1e3, 2.5e-3.
// The literal keeps the source text; the parser converts it.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	isFloat := false

	for isDigit(l.ch) {
		l.readChar()
	}

	if l.ch == 'r' && isRadixDigit(l.peekChar()) {
		l.readChar()
		for isRadixDigit(l.ch) {
			l.readChar()
		}
		return Token{Type: TokenInteger, Literal: l.input[start:l.pos], Pos: pos}
	}

	if l.ch == '.' && isDigit(l.peekChar()) {
		isFloat = true
		l.readChar() // consume .
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	if l.ch == 'e' && (isDigit(l.peekChar()) || l.peekChar() == '-' && isDigit(l.peekAt(2))) {
		l.readChar()
		if l.ch == '-' {
			isFloat = true
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	if isFloat {
		return Token{Type: TokenFloat, Literal: l.input[start:l.pos], Pos: pos}
	}
	return Token{Type: TokenInteger, Literal: l.input[start:l.pos], Pos: pos}
}

// readIdentifierOrKeyword reads an identifier, a reserved word or a
// keyword part such as at:.
func (l *Lexer) readIdentifierOrKeyword(pos Position) Token {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	literal := l.input[start:l.pos]

	if l.ch == ':' && l.peekChar() != '=' {
		l.readChar() // consume :
		return Token{Type: TokenKeyword, Literal: literal + ":", Pos: pos}
	}
	if tokType, ok := reservedWords[literal]; ok {
		return Token{Type: tokType, Literal: literal, Pos: pos}
	}
	return Token{Type: TokenIdentifier, Literal: literal, Pos: pos}
}

// readBinarySelector reads a binary selector. A minus that starts a
// number ends the selector, so 3*-2 reads as 3 * -2.
func (l *Lexer) readBinarySelector(pos Position) Token {
	start := l.pos
	l.readChar()
	for IsBinaryChar(l.ch) && l.ch != '|' {
		if l.ch == '-' && isDigit(l.peekChar()) {
			break
		}
		l.readChar()
	}
	return Token{Type: TokenBinarySelector, Literal: l.input[start:l.pos], Pos: pos}
}

// Helper functions

func isLetter(r rune) bool {
	return unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isRadixDigit(r rune) bool {
	return isDigit(r) || (r >= 'A' && r <= 'Z')
}

// Tokenize returns all tokens from the input.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			break
		}
	}
	return tokens
}
