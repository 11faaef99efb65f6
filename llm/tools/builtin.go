package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/BaSui01/agentwrap/types"
)

// =============================================================================
// 🧮 calculator
// =============================================================================

// CalculatorArgs calculator 工具参数
type CalculatorArgs struct {
	Expression string `json:"expression" jsonschema:"required,description=Arithmetic expression using + - * / % ^ and parentheses"`
}

// CalculatorResult calculator 工具结果
type CalculatorResult struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
}

// Calculator 四则运算工具
func Calculator() Tool {
	return Func("calculator", "Evaluate an arithmetic expression and return the numeric result.",
		func(_ context.Context, args CalculatorArgs) (CalculatorResult, error) {
			v, err := Evaluate(args.Expression)
			if err != nil {
				return CalculatorResult{}, err
			}
			return CalculatorResult{Expression: args.Expression, Result: v}, nil
		})
}

// Evaluate 计算算术表达式。支持 + - * / % ^、一元正负号与括号。
func Evaluate(expr string) (float64, error) {
	p := &exprParser{src: []rune(expr)}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return 0, fmt.Errorf("unexpected %q at position %d", string(p.src[p.pos]), p.pos)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("result is not a finite number")
	}
	return v, nil
}

type exprParser struct {
	src []rune
	pos int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *exprParser) peek() rune {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

// expr := term (('+'|'-') term)*
func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+', '-':
			op := p.src[p.pos]
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			if op == '+' {
				left += right
			} else {
				left -= right
			}
		default:
			return left, nil
		}
	}
}

// term := unary (('*'|'/'|'%') unary)*
func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*', '/', '%':
			op := p.src[p.pos]
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			switch op {
			case '*':
				left *= right
			case '/':
				if right == 0 {
					return 0, fmt.Errorf("division by zero")
				}
				left /= right
			default:
				if right == 0 {
					return 0, fmt.Errorf("modulo by zero")
				}
				left = math.Mod(left, right)
			}
		default:
			return left, nil
		}
	}
}

// unary := ('-'|'+') unary | power
func (p *exprParser) parseUnary() (float64, error) {
	switch p.peek() {
	case '-':
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	case '+':
		p.pos++
		return p.parseUnary()
	}
	return p.parsePower()
}

// power := primary ('^' unary)?   右结合，-2^2 = -4
func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	if p.peek() == '^' {
		p.pos++
		exp, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *exprParser) parsePrimary() (float64, error) {
	c := p.peek()
	if c == '(' {
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}

	start := p.pos
	for p.pos < len(p.src) && (unicode.IsDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		if c == 0 {
			return 0, fmt.Errorf("unexpected end of expression")
		}
		return 0, fmt.Errorf("unexpected %q at position %d", string(c), p.pos)
	}
	return strconv.ParseFloat(string(p.src[start:p.pos]), 64)
}

// =============================================================================
// 🕒 current_time
// =============================================================================

// CurrentTimeArgs current_time 工具参数
type CurrentTimeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name such as Asia/Shanghai; defaults to UTC"`
}

// CurrentTimeResult current_time 工具结果
type CurrentTimeResult struct {
	Timezone string `json:"timezone"`
	Time     string `json:"time"`
	Unix     int64  `json:"unix"`
}

// CurrentTime 当前时间工具。now 为 nil 时使用 time.Now。
func CurrentTime(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}
	return Func("current_time", "Return the current date and time in the given timezone.",
		func(_ context.Context, args CurrentTimeArgs) (CurrentTimeResult, error) {
			tz := strings.TrimSpace(args.Timezone)
			if tz == "" {
				tz = "UTC"
			}
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return CurrentTimeResult{}, fmt.Errorf("unknown timezone %q", tz)
			}
			t := now().In(loc)
			return CurrentTimeResult{Timezone: tz, Time: t.Format(time.RFC3339), Unix: t.Unix()}, nil
		})
}

// =============================================================================
// 🧠 memory_recall
// =============================================================================

// Recaller 语义召回能力（由 memory.Manager 实现）
type Recaller interface {
	Recall(ctx context.Context, scope types.MemoryScope, query string, topK int) ([]types.MemoryRecord, error)
}

// MemoryRecallArgs memory_recall 工具参数
type MemoryRecallArgs struct {
	Query string `json:"query" jsonschema:"required,description=What to look up in long-term memory"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"description=Maximum number of records,minimum=1,maximum=20"`
}

// RecalledMemory memory_recall 返回的单条记录
type RecalledMemory struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// MemoryRecall 记忆召回工具。scope 中为空的字段取自调用上下文
// （Agent 调用时会写入 user 与 agent）。
func MemoryRecall(r Recaller, scope types.MemoryScope) Tool {
	return Func("memory_recall", "Search long-term memory for records relevant to a query.",
		func(ctx context.Context, args MemoryRecallArgs) ([]RecalledMemory, error) {
			topK := args.TopK
			if topK <= 0 || topK > 20 {
				topK = 5
			}
			records, err := r.Recall(ctx, scopeFrom(ctx, scope), args.Query, topK)
			if err != nil {
				return nil, err
			}
			out := make([]RecalledMemory, 0, len(records))
			for _, rec := range records {
				out = append(out, RecalledMemory{ID: rec.ID, Content: rec.Content, Score: rec.Score})
			}
			return out, nil
		})
}

func scopeFrom(ctx context.Context, scope types.MemoryScope) types.MemoryScope {
	if scope.UserID == "" {
		if u, ok := types.UserID(ctx); ok {
			scope.UserID = u
		}
	}
	if scope.Agent == "" {
		if a, ok := types.Agent(ctx); ok {
			scope.Agent = a
		}
	}
	return types.NewMemoryScope(scope.UserID, scope.Agent)
}
