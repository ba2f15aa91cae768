package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// MenuAction is what selecting a root menu option does. The set of
// implementations is closed: StaticReply, OpenSubmenu and Escalate.
type MenuAction interface {
	menuAction()
}

// StaticReply answers with fixed text.
type StaticReply struct {
	Text string
}

// OpenSubmenu shows a nested list of options.
type OpenSubmenu struct {
	Options []SubOption
}

// Escalate hands the conversation to a human attendant.
type Escalate struct{}

func (StaticReply) menuAction() {}
func (OpenSubmenu) menuAction() {}
func (Escalate) menuAction()    {}

// SubOption is one entry of a submenu. Selecting it always answers with Reply.
type SubOption struct {
	Number string `yaml:"number" json:"number"`
	Title  string `yaml:"title" json:"title"`
	Reply  string `yaml:"reply" json:"reply"`
}

// MenuOption is one entry of the root menu.
type MenuOption struct {
	Number      string
	Title       string
	Description string
	Action      MenuAction
}

// MenuTree is the ordered root menu of a tenant.
type MenuTree []MenuOption

type menuOptionDoc struct {
	Number      string      `yaml:"number"`
	Title       string      `yaml:"title"`
	Description string      `yaml:"description"`
	Action      string      `yaml:"action"`
	Reply       string      `yaml:"reply"`
	Submenu     []SubOption `yaml:"submenu"`
}

// UnmarshalYAML decodes an option and resolves its action variant.
func (o *MenuOption) UnmarshalYAML(value *yaml.Node) error {
	var doc menuOptionDoc
	if err := value.Decode(&doc); err != nil {
		return err
	}
	opt := MenuOption{
		Number:      strings.TrimSpace(doc.Number),
		Title:       strings.TrimSpace(doc.Title),
		Description: doc.Description,
	}
	switch strings.ToLower(strings.TrimSpace(doc.Action)) {
	case "reply", "resposta", "":
		text := doc.Reply
		if text == "" {
			text = doc.Description
		}
		opt.Action = StaticReply{Text: text}
	case "submenu":
		opt.Action = OpenSubmenu{Options: doc.Submenu}
	case "escalate", "atendente":
		opt.Action = Escalate{}
	default:
		return fmt.Errorf("menu option %q: unknown action %q", doc.Number, doc.Action)
	}
	*o = opt
	return nil
}

// Find returns the option whose number equals number.
func (t MenuTree) Find(number string) (MenuOption, bool) {
	for _, opt := range t {
		if opt.Number == number {
			return opt, true
		}
	}
	return MenuOption{}, false
}

// Validate checks the structural rules a menu must satisfy before use.
func (t MenuTree) Validate() error {
	seen := make(map[string]struct{}, len(t))
	for i, opt := range t {
		if opt.Number == "" {
			return fmt.Errorf("menu option %d: number is required", i)
		}
		if _, dup := seen[opt.Number]; dup {
			return fmt.Errorf("menu option %q: duplicate number", opt.Number)
		}
		seen[opt.Number] = struct{}{}
		if opt.Action == nil {
			return fmt.Errorf("menu option %q: action is required", opt.Number)
		}
		if sub, ok := opt.Action.(OpenSubmenu); ok {
			if len(sub.Options) == 0 {
				return fmt.Errorf("menu option %q: submenu has no options", opt.Number)
			}
			if err := validateSubOptions(sub.Options); err != nil {
				return fmt.Errorf("menu option %q: %w", opt.Number, err)
			}
		}
	}
	return nil
}

func validateSubOptions(opts []SubOption) error {
	seen := make(map[string]struct{}, len(opts))
	for _, o := range opts {
		n := strings.TrimSpace(o.Number)
		if n == "" {
			return errors.New("submenu option number is required")
		}
		if _, dup := seen[n]; dup {
			return fmt.Errorf("submenu option %q: duplicate number", n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// QuickQuestionNumber is the number given to the synthetic "ask a quick
// question" entry appended to a list of option numbers: one past the largest
// numeric option, or one past the option count when none is numeric.
func QuickQuestionNumber(numbers []string) string {
	max := 0
	numeric := false
	for _, n := range numbers {
		v, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			continue
		}
		numeric = true
		if v > max {
			max = v
		}
	}
	if !numeric {
		return strconv.Itoa(len(numbers) + 1)
	}
	return strconv.Itoa(max + 1)
}

// Numbers lists the option numbers in menu order.
func (t MenuTree) Numbers() []string {
	out := make([]string, len(t))
	for i, opt := range t {
		out[i] = opt.Number
	}
	return out
}

// SubNumbers lists the option numbers of a submenu in order.
func SubNumbers(opts []SubOption) []string {
	out := make([]string, len(opts))
	for i, o := range opts {
		out[i] = o.Number
	}
	return out
}

// QuickReply is a keyword rule answered with fixed text.
type QuickReply struct {
	Keywords []string `yaml:"keywords" json:"keywords"`
	Reply    string   `yaml:"reply" json:"reply"`
}
