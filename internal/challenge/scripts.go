package challenge

import (
	"encoding/json"
	"fmt"
)

// Script tags. Each script starts with one so a scripted page can tell them
// apart.
const (
	tagDetect = "/* challenge:detect */"
	tagState  = "/* challenge:grid-state */"
	tagClick  = "/* challenge:click */"
	tagCell   = "/* challenge:cell */"
	tagAnswer = "/* challenge:answer */"
)

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// visibleJS defines first(sel): the first visible element matching sel.
const visibleJS = `
  const visible = (el) => {
    if (!el) return false;
    const r = el.getBoundingClientRect();
    const st = getComputedStyle(el);
    return r.width > 0 && r.height > 0 && st.visibility !== "hidden" && st.display !== "none";
  };
  const first = (sel) => {
    try { return Array.from(document.querySelectorAll(sel)).find(visible) || null; } catch (e) { return null; }
  };
  const text = (el) => el ? (el.innerText || el.textContent || el.getAttribute("aria-label") || "").trim().slice(0, 500) : "";`

// detectScript returns {ok:true, type, selector, question} with type ""
// when nothing matched. Grid markers win over image, image over text.
func detectScript(m Markers) string {
	return fmt.Sprintf(`%s(() => {%s
  const grid = first(%s), checkbox = first(%s);
  if (grid || checkbox) {
    return {ok: true, type: "checkbox-grid", selector: grid ? %s : %s, question: text(first(%s))};
  }
  const input = first(%s);
  const image = first(%s);
  if (image && input) return {ok: true, type: "image", selector: %s, question: text(first(%s))};
  const question = first(%s);
  if (question && input) return {ok: true, type: "text", selector: %s, question: text(question)};
  if (first(%s)) return {ok: true, type: "unknown", selector: %s, question: ""};
  return {ok: true, type: ""};
})()`,
		tagDetect, visibleJS,
		jsString(m.Grid), jsString(m.Checkbox),
		jsString(m.Grid), jsString(m.Checkbox), jsString(m.Prompt),
		jsString(m.Input),
		jsString(m.Image), jsString(m.Image), jsString(m.Question),
		jsString(m.Question), jsString(m.Question),
		jsString(m.Generic), jsString(m.Generic))
}

// gridStateScript returns {ok:true, present, cells, prompt}.
func gridStateScript(m Markers) string {
	return fmt.Sprintf(`%s(() => {%s
  const grid = first(%s);
  if (!grid) return {ok: true, present: false, cells: 0, prompt: ""};
  const cells = Array.from(document.querySelectorAll(%s)).filter(visible);
  return {ok: true, present: true, cells: cells.length, prompt: text(first(%s))};
})()`, tagState, visibleJS, jsString(m.Grid), jsString(m.Cell), jsString(m.Prompt))
}

// clickScript clicks the first visible match of sel.
func clickScript(sel string) string {
	return fmt.Sprintf(`%s(() => {%s
  const el = first(%s);
  if (!el) return {ok: false, error: "element not found: " + %s};
  el.click();
  return {ok: true};
})()`, tagClick, visibleJS, jsString(sel), jsString(sel))
}

// cellScript clicks the visible cell at 0-based index.
func cellScript(sel string, index int) string {
	return fmt.Sprintf(`%s(() => {%s
  const cells = Array.from(document.querySelectorAll(%s)).filter(visible);
  const el = cells[%d];
  if (!el) return {ok: false, error: "cell %d out of range (" + cells.length + " cells)"};
  el.click();
  return {ok: true, index: %d};
})()`, tagCell, visibleJS, jsString(sel), index, index, index)
}

// answerScript writes answer into the input and submits it.
func answerScript(m Markers, answer string) string {
	return fmt.Sprintf(`%s(() => {%s
  const el = first(%s);
  if (!el) return {ok: false, error: "answer field not found"};
  el.focus();
  const setter = Object.getOwnPropertyDescriptor(HTMLInputElement.prototype, "value");
  if (setter && setter.set && el instanceof HTMLInputElement) { setter.set.call(el, %s); } else { el.value = %s; }
  el.dispatchEvent(new Event("input", {bubbles: true}));
  el.dispatchEvent(new Event("change", {bubbles: true}));
  const button = first(%s);
  if (button) { button.click(); return {ok: true, submitted: "button"}; }
  const form = el.form || el.closest("form");
  if (form && form.requestSubmit) { form.requestSubmit(); return {ok: true, submitted: "form"}; }
  el.dispatchEvent(new KeyboardEvent("keydown", {key: "Enter", code: "Enter", keyCode: 13, bubbles: true}));
  return {ok: true, submitted: "enter"};
})()`, tagAnswer, visibleJS, jsString(m.Input), jsString(answer), jsString(answer), jsString(m.Submit))
}
