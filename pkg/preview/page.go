package preview

// indexHTML is the embedded preview page. It polls /state for session
// data and refreshes the visual from /frame (stream mode) or from the
// published screenshot reference (poll mode).
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>periscope</title>
<style>
  body { font-family: system-ui, sans-serif; margin: 1.5rem; background: #111; color: #ddd; }
  h1 { font-size: 1.1rem; }
  #view { max-width: 100%; border: 1px solid #333; min-height: 200px; background: #000; }
  #status { margin: .5rem 0; font-size: .85rem; color: #999; }
  #status .up { color: #6c6; }
  #status .down { color: #c66; }
  #error { color: #c66; white-space: pre-wrap; }
  form { margin: 1rem 0; display: flex; gap: .5rem; }
  input[type=text] { flex: 1; padding: .4rem; background: #222; color: #ddd; border: 1px solid #444; }
  button { padding: .4rem .8rem; }
  ul#history { list-style: none; padding: 0; }
  #history li { border-bottom: 1px solid #222; padding: .4rem 0; }
  #history .ts { color: #777; font-size: .8rem; margin-left: .5rem; }
  #history .resp { color: #9ab; display: block; margin-top: .2rem; white-space: pre-wrap; }
</style>
</head>
<body>
<h1>periscope &mdash; remote browser view</h1>
<div id="status">connecting&hellip;</div>
<img id="view" alt="browser view">
<form id="cmd">
  <input type="text" id="command" placeholder="e.g. open example.com and search for Go tutorials" autocomplete="off">
  <button type="submit" id="submit">Execute</button>
</form>
<div id="error"></div>
<ul id="history"></ul>
<script>
(function () {
  var mode = "stream";

  function refreshFrame(state) {
    var img = document.getElementById("view");
    if (mode === "poll" && state.poll_url) {
      img.src = state.poll_url;
    } else {
      img.src = "/frame?t=" + Date.now();
    }
  }

  function render(state) {
    mode = state.mode;
    var conn = state.connection === "open"
      ? '<span class="up">&#9679; stream connected</span>'
      : '<span class="down">&#9679; stream ' + state.connection + '</span>';
    var extra = " &mdash; mode: " + state.mode;
    if (state.debug_url) {
      extra += ' &mdash; <a href="' + state.debug_url + '">debugger</a>';
    }
    document.getElementById("status").innerHTML = conn + extra;
    document.getElementById("error").textContent = state.error || "";
    document.getElementById("submit").disabled = !!state.loading;

    var list = document.getElementById("history");
    list.innerHTML = "";
    (state.history || []).slice().reverse().forEach(function (rec) {
      var li = document.createElement("li");
      var cmd = document.createElement("strong");
      cmd.textContent = rec.command;
      var ts = document.createElement("span");
      ts.className = "ts";
      ts.textContent = rec.timestamp;
      var resp = document.createElement("span");
      resp.className = "resp";
      resp.textContent = rec.response;
      li.appendChild(cmd); li.appendChild(ts); li.appendChild(resp);
      if (rec.screenshot_url) {
        var a = document.createElement("a");
        a.href = rec.screenshot_url;
        a.target = "_blank";
        a.textContent = "screenshot";
        li.appendChild(document.createTextNode(" "));
        li.appendChild(a);
      }
      list.appendChild(li);
    });
  }

  function tick() {
    fetch("/state").then(function (r) { return r.json(); }).then(function (state) {
      render(state);
      refreshFrame(state);
    }).catch(function () {
      document.getElementById("status").innerHTML = '<span class="down">&#9679; preview unreachable</span>';
    });
  }

  document.getElementById("cmd").addEventListener("submit", function (ev) {
    ev.preventDefault();
    var input = document.getElementById("command");
    if (!input.value.trim()) { return; }
    fetch("/execute", {
      method: "POST",
      headers: { "Content-Type": "application/json" },
      body: JSON.stringify({ command: input.value })
    }).then(function (r) {
      if (r.ok) { input.value = ""; }
      tick();
    });
  });

  tick();
  setInterval(tick, 1000);
})();
</script>
</body>
</html>
`
