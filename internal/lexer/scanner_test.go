package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanAll(source string) []Token {
	s := NewScanner(source)
	var toks []Token
	for {
		tok := s.Scan()
		toks = append(toks, tok)
		if tok.Type == TokenEOF {
			return toks
		}
	}
}

func kinds(toks []Token) []TokenType {
	out := make([]TokenType, len(toks))
	for i, t := range toks {
		out[i] = t.Type
	}
	return out
}

func TestScanPunctuation(t *testing.T) {
	toks := scanAll("( ) { } [ ] , . ; : ? + - / % * ** ! != = == < <= > >= ...")
	assert.Equal(t, []TokenType{
		TokenLParen, TokenRParen, TokenLBrace, TokenRBrace, TokenLBracket,
		TokenRBracket, TokenComma, TokenDot, TokenSemicolon, TokenColon,
		TokenQMark, TokenPlus, TokenMinus, TokenSlash, TokenPercent,
		TokenStar, TokenStarStar, TokenBang, TokenBangEqual, TokenEqual,
		TokenEqualEqual, TokenLess, TokenLessEqual, TokenGreater,
		TokenGreaterEqual, TokenDotDotDot, TokenEOF,
	}, kinds(toks))
}

func TestScanKeywords(t *testing.T) {
	tests := []struct {
		src  string
		want TokenType
	}{
		{"and", TokenAnd},
		{"class", TokenClass},
		{"else", TokenElse},
		{"false", TokenFalse},
		{"for", TokenFor},
		{"fn", TokenFn},
		{"if", TokenIf},
		{"impl", TokenImpl},
		{"in", TokenIn},
		{"nil", TokenNil},
		{"or", TokenOr},
		{"print", TokenPrint},
		{"return", TokenReturn},
		{"super", TokenSuper},
		{"self", TokenSelf},
		{"true", TokenTrue},
		{"var", TokenVar},
		{"while", TokenWhile},
	}
	for _, tt := range tests {
		tok := NewScanner(tt.src).Scan()
		assert.Equal(t, tt.want, tok.Type, tt.src)
		assert.Equal(t, tt.src, tok.Lexeme)
	}
}

func TestKeywordPrefixesAreIdentifiers(t *testing.T) {
	for _, src := range []string{"classy", "form", "superb", "selfie", "fnord", "iffy", "variable", "implement"} {
		tok := NewScanner(src).Scan()
		assert.Equal(t, TokenIdentifier, tok.Type, src)
	}
}

func TestScanNumbers(t *testing.T) {
	toks := scanAll("0 42 3.14 100.5")
	require.Len(t, toks, 5)
	for _, tok := range toks[:4] {
		assert.Equal(t, TokenNumber, tok.Type)
	}
	assert.Equal(t, "3.14", toks[2].Lexeme)
}

func TestNumberDotWithoutDigitsIsNotFractional(t *testing.T) {
	// "1." scans as the number 1 followed by a dot token.
	toks := scanAll("1.")
	assert.Equal(t, []TokenType{TokenNumber, TokenDot, TokenEOF}, kinds(toks))
}

func TestScanStrings(t *testing.T) {
	tok := NewScanner(`"hello world"`).Scan()
	assert.Equal(t, TokenString, tok.Type)
	assert.Equal(t, `"hello world"`, tok.Lexeme)
}

func TestMultilineStringCountsLines(t *testing.T) {
	s := NewScanner("\"a\nb\"\nx")
	str := s.Scan()
	assert.Equal(t, TokenString, str.Type)
	ident := s.Scan()
	assert.Equal(t, TokenIdentifier, ident.Type)
	assert.Equal(t, 3, ident.Line)
}

func TestUnterminatedString(t *testing.T) {
	tok := NewScanner(`"oops`).Scan()
	assert.Equal(t, TokenError, tok.Type)
	assert.Equal(t, "Unterminated string.", tok.Lexeme)
}

func TestUnexpectedCharacter(t *testing.T) {
	tok := NewScanner("@").Scan()
	assert.Equal(t, TokenError, tok.Type)
	assert.Equal(t, "Unexpected character.", tok.Lexeme)
}

func TestCommentsAndWhitespaceSkipped(t *testing.T) {
	toks := scanAll("// a comment\n  x // trailing\n\ty")
	require.Len(t, toks, 3)
	assert.Equal(t, "x", toks[0].Lexeme)
	assert.Equal(t, 2, toks[0].Line)
	assert.Equal(t, "y", toks[1].Lexeme)
	assert.Equal(t, 3, toks[1].Line)
}

func TestLineCounting(t *testing.T) {
	s := NewScanner("a\nb\n\nc")
	assert.Equal(t, 1, s.Scan().Line)
	assert.Equal(t, 2, s.Scan().Line)
	assert.Equal(t, 4, s.Scan().Line)
}

func TestEOFIsSticky(t *testing.T) {
	s := NewScanner("x")
	s.Scan()
	assert.Equal(t, TokenEOF, s.Scan().Type)
	assert.Equal(t, TokenEOF, s.Scan().Type)
}
