package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"

	"github.com/a-h/templ"
	"github.com/conneroisu/codepad/internal/buffer"
	"github.com/conneroisu/codepad/internal/version"
)

// Tab is one buffer selector on the page.
type Tab struct {
	Buffer string `json:"buffer"`
	Label  string `json:"label"`
}

// PageData is what the playground page is rendered from.
type PageData struct {
	Title      string   `json:"-"`
	Version    string   `json:"version"`
	MonacoBase string   `json:"monacoBase"`
	Tabs       []Tab    `json:"tabs"`
	Shortcuts  []string `json:"shortcuts"`
}

func (s *Server) pageData() PageData {
	data := PageData{
		Title:      "codepad",
		Version:    version.GetShortVersion(),
		MonacoBase: monacoBase,
		Shortcuts:  []string{},
	}
	for _, id := range buffer.All() {
		data.Tabs = append(data.Tabs, Tab{Buffer: id.String(), Label: buffer.KindOf(id).Label})
	}
	if s.opts.Dispatcher != nil && s.opts.Dispatcher.Keymap() != nil {
		for chord := range s.opts.Dispatcher.Keymap().Bindings() {
			data.Shortcuts = append(data.Shortcuts, chord)
		}
		sort.Strings(data.Shortcuts)
	}
	return data
}

func (s *Server) pageHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		templ.Handler(Page(s.pageData())).ServeHTTP(w, r)
	})
}

// Page renders the playground: buffer tabs, the editing widget, the preview
// frame, the command palette and the prompt dialog.
func Page(data PageData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		cfg, err := json.Marshal(data)
		if err != nil {
			return err
		}

		if _, err := io.WriteString(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>`+templ.EscapeString(data.Title)+`</title>
<script src="`+templ.EscapeString(data.MonacoBase)+`/min/vs/loader.js"></script>
<style>`+pageCSS+`</style>
</head>
<body>
<header class="toolbar">
<span class="brand">`+templ.EscapeString(data.Title)+`</span>
<nav class="tabs" id="tabs">`); err != nil {
			return err
		}

		for _, tab := range data.Tabs {
			if _, err := io.WriteString(w, `<button class="tab" data-buffer="`+
				templ.EscapeString(tab.Buffer)+`">`+templ.EscapeString(tab.Label)+
				`<span class="dirty"></span></button>`); err != nil {
				return err
			}
		}

		_, err = io.WriteString(w, `</nav>
<span class="file" id="file"></span>
<button class="palette-button" id="paletteButton" title="Command palette">&#8984;</button>
<span class="version">`+templ.EscapeString(data.Version)+`</span>
</header>
<main class="panes">
<section class="editor" id="editor"></section>
<section class="preview"><iframe id="preview" title="Preview" sandbox="allow-scripts" src="/preview"></iframe></section>
</main>
<div class="palette hidden" id="palette">
<input id="paletteInput" placeholder="Type a command" autocomplete="off">
<ul id="paletteResults"></ul>
</div>
<div class="prompt hidden" id="prompt">
<form id="promptForm">
<p id="promptMessage"></p>
<input id="promptPath" autocomplete="off">
<ul id="promptFiles"></ul>
<div class="actions"><button type="button" id="promptCancel">Cancel</button><button type="submit" id="promptOk">OK</button></div>
</form>
</div>
<div class="notices" id="notices"></div>
<script type="application/json" id="codepad-config">`+string(cfg)+`</script>
<script>`+pageJS+`</script>
</body>
</html>
`)
		return err
	})
}

const pageCSS = `
* { box-sizing: border-box; }
html, body { margin: 0; height: 100%; font-family: system-ui, sans-serif; background: #1e1e1e; color: #ddd; }
.toolbar { height: 44px; display: flex; align-items: center; gap: 12px; padding: 0 12px; background: #2d2d30; }
.brand { font-weight: 600; }
.tabs { display: flex; gap: 4px; }
.tab { background: #3c3c3c; color: #ccc; border: 0; padding: 6px 14px; cursor: pointer; }
.tab.active { background: #1e1e1e; color: #fff; }
.tab .dirty::after { content: ""; }
.tab.is-dirty .dirty::after { content: " \2022"; }
.file { flex: 1; color: #999; font-size: 13px; }
.palette-button { background: none; border: 0; color: #ccc; cursor: pointer; font-size: 16px; }
.version { color: #777; font-size: 12px; }
.panes { display: flex; height: calc(100% - 44px); }
.editor { flex: 1; min-width: 0; }
.preview { flex: 1; background: #fff; }
.preview iframe { width: 100%; height: 100%; border: 0; }
.hidden { display: none !important; }
.palette { position: fixed; top: 60px; left: 50%; transform: translateX(-50%); width: 480px; background: #252526; border: 1px solid #454545; box-shadow: 0 4px 16px #0008; }
.palette input, .prompt input { width: 100%; padding: 8px; background: #3c3c3c; color: #fff; border: 0; }
.palette ul, .prompt ul { list-style: none; margin: 0; padding: 0; max-height: 300px; overflow-y: auto; }
.palette li, .prompt li { padding: 6px 10px; cursor: pointer; }
.palette li.selected, .palette li:hover, .prompt li:hover { background: #094771; }
.prompt { position: fixed; inset: 0; background: #0008; display: flex; align-items: center; justify-content: center; }
.prompt form { width: 420px; background: #252526; padding: 16px; border: 1px solid #454545; }
.prompt .actions { display: flex; justify-content: flex-end; gap: 8px; margin-top: 12px; }
.notices { position: fixed; right: 12px; bottom: 12px; display: flex; flex-direction: column; gap: 6px; }
.notice { padding: 8px 12px; background: #333; border-left: 4px solid #3794ff; }
.notice.warn { border-color: #cca700; }
.notice.error { border-color: #f14c4c; }
`

const pageJS = `
(function () {
  const config = JSON.parse(document.getElementById('codepad-config').textContent);
  const shortcuts = new Set(config.shortcuts);
  let editor = null, ws = null, shown = 'markup', suppress = false;
  let palette = { visible: false, query: '', results: [] }, selected = 0;
  let prompt = null;

  function send(type, data) {
    if (ws && ws.readyState === WebSocket.OPEN) {
      ws.send(JSON.stringify({ type: type, data: data, timestamp: new Date().toISOString() }));
    }
  }

  function chordOf(e) {
    let key = e.key;
    if (['Control', 'Shift', 'Alt', 'Meta'].includes(key)) return null;
    if (key === ' ') key = 'Space';
    else if (key.length === 1) key = key.toUpperCase();
    let chord = '';
    if (e.ctrlKey) chord += 'Ctrl+';
    if (e.altKey) chord += 'Alt+';
    if (e.shiftKey) chord += 'Shift+';
    if (e.metaKey) chord += 'Meta+';
    return chord + key;
  }

  window.addEventListener('keydown', function (e) {
    const chord = chordOf(e);
    if (!chord || prompt || !shortcuts.has(chord)) return;
    e.preventDefault();
    e.stopPropagation();
    send('key', { chord: chord });
  }, true);

  function applyText(msg) {
    if (!editor) return;
    if (msg.buffer !== shown) {
      shown = msg.buffer;
      monaco.editor.setModelLanguage(editor.getModel(), msg.language);
    }
    if (editor.getValue() !== msg.text) {
      suppress = true;
      editor.setValue(msg.text);
      suppress = false;
    }
  }

  function applyState(s) {
    document.querySelectorAll('.tab').forEach(function (tab) {
      const id = tab.dataset.buffer;
      tab.classList.toggle('active', id === s.current);
      tab.classList.toggle('is-dirty', !!(s.dirty && s.dirty[id]));
    });
    document.getElementById('file').textContent = (s.files && s.files[s.current]) || 'untitled';
  }

  function applyPreview(doc) {
    document.getElementById('preview').src = '/preview?rev=' + doc.revision;
    document.title = doc.title + ' - ' + config.version;
  }

  function runAction(a) {
    if (!editor) return;
    if (a.action === 'select_all') {
      editor.setSelection(editor.getModel().getFullModelRange());
      editor.focus();
    } else if (a.action === 'format') {
      const action = editor.getAction('editor.action.formatDocument');
      if (action) action.run();
    }
  }

  function renderPalette() {
    const el = document.getElementById('palette');
    const input = document.getElementById('paletteInput');
    const list = document.getElementById('paletteResults');
    el.classList.toggle('hidden', !palette.visible);
    if (!palette.visible) {
      if (editor) editor.focus();
      return;
    }
    if (input.value !== palette.query) input.value = palette.query;
    selected = Math.min(selected, Math.max(palette.results.length - 1, 0));
    list.innerHTML = '';
    palette.results.forEach(function (name, i) {
      const li = document.createElement('li');
      li.textContent = name;
      li.classList.toggle('selected', i === selected);
      li.addEventListener('click', function () { choose(name); });
      list.appendChild(li);
    });
    if (document.activeElement !== input) input.focus();
  }

  function choose(name) {
    send('command', { name: 'Close Command Palette' });
    send('command', { name: name });
  }

  document.getElementById('paletteInput').addEventListener('input', function (e) {
    selected = 0;
    send('palette_query', { query: e.target.value });
  });
  document.getElementById('paletteInput').addEventListener('keydown', function (e) {
    if (e.key === 'ArrowDown') { selected++; renderPalette(); e.preventDefault(); }
    if (e.key === 'ArrowUp') { selected = Math.max(selected - 1, 0); renderPalette(); e.preventDefault(); }
    if (e.key === 'Enter' && palette.results[selected]) { choose(palette.results[selected]); e.preventDefault(); }
  });
  document.getElementById('paletteButton').addEventListener('click', function () {
    send('command', { name: 'Toggle Command Palette' });
  });

  function showPrompt(p) {
    prompt = p;
    const path = document.getElementById('promptPath');
    const files = document.getElementById('promptFiles');
    let message = p.message || '';
    if (p.kind === 'open') message = 'Open a file from the workspace';
    if (p.kind === 'save') message = 'Save as' + (p.filter ? ' (' + p.filter.description + ')' : '');
    document.getElementById('promptMessage').textContent = message;
    path.classList.toggle('hidden', p.kind === 'confirm');
    path.value = p.suggested_name || '';
    files.innerHTML = '';
    (p.files || []).forEach(function (f) {
      const li = document.createElement('li');
      li.textContent = f;
      li.addEventListener('click', function () {
        path.value = f;
        if (p.kind === 'open') reply({ path: f });
      });
      files.appendChild(li);
    });
    document.getElementById('prompt').classList.remove('hidden');
    (p.kind === 'confirm' ? document.getElementById('promptOk') : path).focus();
  }

  function reply(fields) {
    if (!prompt) return;
    send('prompt_reply', Object.assign({ id: prompt.id }, fields));
    prompt = null;
    document.getElementById('prompt').classList.add('hidden');
    if (editor) editor.focus();
  }

  document.getElementById('promptForm').addEventListener('submit', function (e) {
    e.preventDefault();
    if (!prompt) return;
    if (prompt.kind === 'confirm') return reply({ confirmed: true });
    const path = document.getElementById('promptPath').value.trim();
    if (!path) return reply({ canceled: true });
    reply({ path: path });
  });
  document.getElementById('promptCancel').addEventListener('click', function () {
    reply({ canceled: true });
  });
  document.getElementById('prompt').addEventListener('keydown', function (e) {
    if (e.key === 'Escape') { e.stopPropagation(); reply({ canceled: true }); }
  }, true);

  function notice(n) {
    const el = document.createElement('div');
    el.className = 'notice ' + n.level;
    el.textContent = n.message;
    document.getElementById('notices').appendChild(el);
    setTimeout(function () { el.remove(); }, 5000);
  }

  document.querySelectorAll('.tab').forEach(function (tab) {
    tab.addEventListener('click', function () { send('switch', { buffer: tab.dataset.buffer }); });
  });

  function connect() {
    const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
    ws = new WebSocket(scheme + location.host + '/ws');
    ws.onmessage = function (ev) {
      const msg = JSON.parse(ev.data);
      const data = msg.data || {};
      switch (msg.type) {
        case 'state': applyState(data); break;
        case 'set_text': applyText(data); break;
        case 'preview': applyPreview(data); break;
        case 'action': runAction(data); break;
        case 'palette': palette = data; renderPalette(); break;
        case 'prompt': showPrompt(data); break;
        case 'notice': notice(data); break;
      }
    };
    ws.onclose = function () {
      if (prompt) { prompt = null; document.getElementById('prompt').classList.add('hidden'); }
      setTimeout(connect, 1000);
    };
  }

  window.MonacoEnvironment = {
    getWorkerUrl: function () {
      return 'data:text/javascript;charset=utf-8,' + encodeURIComponent(
        "self.MonacoEnvironment = { baseUrl: '" + config.monacoBase + "/min/' };" +
        "importScripts('" + config.monacoBase + "/min/vs/base/worker/workerMain.js');");
    }
  };
  require.config({ paths: { vs: config.monacoBase + '/min/vs' } });
  require(['vs/editor/editor.main'], function () {
    editor = monaco.editor.create(document.getElementById('editor'), {
      value: '',
      language: 'html',
      theme: 'vs-dark',
      automaticLayout: true,
      minimap: { enabled: false }
    });
    editor.onDidChangeModelContent(function () {
      if (suppress) return;
      send('edit', { buffer: shown, text: editor.getValue() });
    });
    connect();
  });
})();
`
