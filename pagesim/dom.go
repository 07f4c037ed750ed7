package pagesim

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
)

var (
	withID  = cascadia.MustCompile("[id]")
	scripts = cascadia.MustCompile("script")
)

// Element is a DOM element as seen by page scripts.
type Element struct {
	ID          string `js:"id"`
	TagName     string `js:"tagName"`
	TextContent string `js:"textContent"`
}

// Window is the page seen from its own event loop. It implements
// extract.GlobalScope, extract.Document, extract.Harness and
// extract.Scheduler. Use it only inside Page.Do or callbacks the page runs.
type Window struct {
	p *Page
}

// URL returns the address of the current document.
func (w *Window) URL() string { return w.p.url }

func (w *Window) Lookup(name string) (any, bool) {
	g := w.p.vm.GlobalObject()
	for _, k := range g.Keys() {
		if k == name {
			return g.Get(name).Export(), true
		}
	}
	return nil, false
}

func (w *Window) Delete(name string) {
	if err := w.p.vm.GlobalObject().Delete(name); err != nil {
		slog.Debug("pagesim: delete global failed", "name", name, "error", err)
	}
}

func (w *Window) TextContent(id string) (string, bool) {
	el := w.p.elementByID(id)
	if el == nil {
		return "", false
	}
	return el.TextContent, true
}

func (w *Window) AddCompletionCallback(fn func()) {
	w.p.addCompletionCallback(fn)
}

func (w *Window) Defer(fn func()) {
	w.p.after(0, fn)
}

func (p *Page) elementByID(id string) *Element {
	for _, el := range p.elements {
		if el.ID == id {
			return el
		}
	}
	return nil
}

func (p *Page) attach(el *Element) {
	for _, existing := range p.elements {
		if existing == el {
			return
		}
	}
	p.elements = append(p.elements, el)
}

func (p *Page) draw(el *Element) {
	for _, existing := range p.drawn {
		if existing == el {
			return
		}
	}
	p.drawn = append(p.drawn, el)
}

// loadHTML attaches every element carrying an id, then runs inline scripts
// in document order. Script errors are logged and do not stop the load.
func (p *Page) loadHTML(src string) error {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("pagesim: parse document: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	doc.FindMatcher(withID).Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		p.attach(&Element{
			ID:          id,
			TagName:     strings.ToUpper(goquery.NodeName(s)),
			TextContent: s.Text(),
		})
	})

	body := doc.Find("body").Clone()
	body.FindMatcher(scripts).Remove()
	p.painted = body.Text()

	p.setDocument("readyState", "loading")
	p.setRoot("className", doc.Find("html").AttrOr("class", ""))

	doc.FindMatcher(scripts).Each(func(_ int, s *goquery.Selection) {
		if _, err := p.vm.RunString(s.Text()); err != nil {
			slog.Debug("pagesim: script error", "url", p.url, "error", err)
		}
	})
	p.setDocument("readyState", "complete")
	return nil
}

// render is what a screenshot shows: the body text of the loaded document
// followed by the text of elements scripts appended, whitespace collapsed.
// Loop only.
func (p *Page) render() []byte {
	parts := []string{p.painted}
	for _, el := range p.drawn {
		parts = append(parts, el.TextContent)
	}
	return []byte(strings.Join(strings.Fields(strings.Join(parts, " ")), " "))
}

func (p *Page) setDocument(name string, v any) {
	if err := p.document.Set(name, v); err != nil {
		slog.Debug("pagesim: set document property failed", "name", name, "error", err)
	}
}

func (p *Page) setRoot(name string, v any) {
	if err := p.root.Set(name, v); err != nil {
		slog.Debug("pagesim: set root property failed", "name", name, "error", err)
	}
}

func (p *Page) newRuntime() *goja.Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("js", true))
	g := vm.GlobalObject()

	document := vm.NewObject()
	_ = document.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		if el := p.elementByID(call.Argument(0).String()); el != nil {
			return vm.ToValue(el)
		}
		return goja.Null()
	})
	_ = document.Set("createElement", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(&Element{TagName: strings.ToUpper(call.Argument(0).String())})
	})

	body := vm.NewObject()
	_ = body.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		el, ok := call.Argument(0).Export().(*Element)
		if !ok {
			panic(vm.NewTypeError("appendChild: argument is not an element"))
		}
		p.attach(el)
		p.draw(el)
		return call.Argument(0)
	})
	_ = document.Set("body", body)

	root := vm.NewObject()
	_ = root.Set("tagName", "HTML")
	_ = root.Set("className", "")
	_ = document.Set("documentElement", root)
	_ = document.Set("readyState", "complete")
	p.document, p.root = document, root

	_ = g.Set("window", g)
	_ = g.Set("document", document)

	_ = g.Set("add_completion_callback", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("add_completion_callback: argument is not a function"))
		}
		p.addCompletionCallback(func() {
			if _, err := fn(goja.Undefined()); err != nil {
				slog.Debug("pagesim: completion callback failed", "url", p.url, "error", err)
			}
		})
		return goja.Undefined()
	})

	_ = g.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("setTimeout: argument is not a function"))
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		var extra []goja.Value
		if len(call.Arguments) > 2 {
			extra = call.Arguments[2:]
		}
		p.after(delay, func() {
			if _, err := fn(goja.Undefined(), extra...); err != nil {
				slog.Debug("pagesim: timer callback failed", "url", p.url, "error", err)
			}
		})
		return goja.Undefined()
	})

	return vm
}
