package dom

import (
	"testing"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const page = `<html><head><title>t</title></head><body>
<div id="thread" class="chat-thread">
  <div class="message user">hi <b>there</b></div>
</div></body></html>`

func find(root *html.Node, id string) *html.Node {
	var out *html.Node
	Walk(root, func(n *html.Node) bool {
		if v, _ := Attr(n, "id"); v == id {
			out = n
			return false
		}
		return out == nil
	})
	return out
}

func TestParse_KeysAndHelpers(t *testing.T) {
	doc, err := ParseString(page)
	if err != nil {
		t.Fatal(err)
	}
	el := doc.DocumentElement()
	if el == nil || el.Data != "html" {
		t.Fatalf("DocumentElement = %v", el)
	}
	if Depth(el) != 0 {
		t.Fatalf("Depth(html) = %d, want 0", Depth(el))
	}
	if doc.Key(el) == 0 {
		t.Fatal("html element has no key")
	}

	thread := find(doc.Root(), "thread")
	if thread == nil {
		t.Fatal("thread not found")
	}
	if Depth(thread) != 2 {
		t.Errorf("Depth(thread) = %d, want 2", Depth(thread))
	}
	if Label(thread) != "div#thread" {
		t.Errorf("Label = %q", Label(thread))
	}
	msg := ChildElements(thread)[0]
	if got := Classes(msg); len(got) != 2 || got[1] != "user" {
		t.Errorf("Classes = %v", got)
	}
	if Text(msg) != "hi there" {
		t.Errorf("Text = %q", Text(msg))
	}
	if ParentElement(msg) != thread {
		t.Error("ParentElement mismatch")
	}
	if !Attached(msg) {
		t.Error("msg should be attached")
	}
}

func TestTree_StableKeys(t *testing.T) {
	tree, err := ParseTreeString(page)
	if err != nil {
		t.Fatal(err)
	}
	first := tree.Snapshot()
	thread1 := find(first.Root(), "thread")

	tree.Mutate(func(root *html.Node) {
		body := find(root, "thread").Parent
		extra := &html.Node{Type: html.ElementNode, Data: "p", DataAtom: atom.P,
			Attr: []html.Attribute{{Key: "id", Val: "extra"}}}
		body.AppendChild(extra)
	})

	second := tree.Snapshot()
	thread2 := find(second.Root(), "thread")
	if thread1 == thread2 {
		t.Fatal("snapshots must not share nodes")
	}
	if first.Key(thread1) != second.Key(thread2) {
		t.Fatalf("key changed across snapshots: %d vs %d", first.Key(thread1), second.Key(thread2))
	}
	extra := find(second.Root(), "extra")
	if extra == nil || second.Key(extra) == 0 {
		t.Fatal("new element missing or unkeyed")
	}
	if find(first.Root(), "extra") != nil {
		t.Fatal("earlier snapshot saw a later mutation")
	}
}

func TestTree_KeyOfMatchesSnapshot(t *testing.T) {
	tree, err := ParseTreeString(page)
	if err != nil {
		t.Fatal(err)
	}
	var live *html.Node
	tree.Mutate(func(root *html.Node) { live = find(root, "thread") })
	k := tree.KeyOf(live)

	snap := tree.Snapshot()
	if got := snap.Key(find(snap.Root(), "thread")); got != k {
		t.Fatalf("snapshot key = %d, KeyOf = %d", got, k)
	}
}
