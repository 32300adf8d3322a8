package httpapi

import (
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Offsync Console</title>
  <style>
    :root {
      --ink: #16222d;
      --paper: #f6f7f4;
      --card: #ffffff;
      --line: #d4d9d2;
      --accent: #2e7d6b;
      --warn: #c2483f;
      --muted: #6e7a78;
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      padding: 24px;
      font-family: "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background: var(--paper);
    }
    .shell { max-width: 860px; margin: 0 auto; display: grid; gap: 14px; }
    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 12px;
      padding: 16px;
    }
    h1 { margin: 0; font-size: 1.4rem; }
    .sub { color: var(--muted); font-size: 0.9rem; margin-top: 4px; }
    .badge {
      display: inline-block;
      border-radius: 999px;
      padding: 4px 12px;
      font-size: 0.85rem;
      background: var(--accent);
      color: #fff;
    }
    .badge.offline, .badge.error { background: var(--warn); }
    .badge.syncing { background: #b78a2e; }
    table { width: 100%; border-collapse: collapse; font-size: 0.88rem; }
    th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid var(--line); }
    td.mono { font-family: ui-monospace, monospace; font-size: 0.8rem; }
    button {
      border: 1px solid var(--line);
      border-radius: 8px;
      background: var(--accent);
      color: #fff;
      padding: 8px 14px;
      cursor: pointer;
    }
    .muted { color: var(--muted); }
  </style>
</head>
<body>
  <div class="shell">
    <div class="card">
      <h1>Offsync Console</h1>
      <div class="sub">Offline mutation queue for the coaching platform</div>
    </div>
    <div class="card">
      <span id="status" class="badge">connecting…</span>
      <span id="pending" class="muted"></span>
      <span id="lastSync" class="muted"></span>
      <button id="drain" style="float:right">Sync now</button>
    </div>
    <div class="card">
      <table>
        <thead><tr><th>ID</th><th>Type</th><th>Entity</th><th>Status</th><th>Retries</th><th>Last error</th></tr></thead>
        <tbody id="queue"></tbody>
      </table>
    </div>
  </div>
  <script>
    const statusEl = document.getElementById('status');
    const pendingEl = document.getElementById('pending');
    const lastSyncEl = document.getElementById('lastSync');
    const queueEl = document.getElementById('queue');

    function render(snapshot) {
      statusEl.textContent = snapshot.status;
      statusEl.className = 'badge ' + snapshot.status;
      pendingEl.textContent = ' pending: ' + snapshot.pendingCount;
      lastSyncEl.textContent = snapshot.lastSync ? ' last sync: ' + snapshot.lastSync : '';
      refreshQueue();
    }

    async function refreshQueue() {
      const res = await fetch('/v1/sync/queue');
      if (!res.ok) return;
      const body = await res.json();
      queueEl.innerHTML = '';
      for (const item of body.items || []) {
        const row = document.createElement('tr');
        for (const value of [item.id, item.type, item.entityId, item.status, item.retryCount, item.lastError || '']) {
          const cell = document.createElement('td');
          cell.className = 'mono';
          cell.textContent = value;
          row.appendChild(cell);
        }
        queueEl.appendChild(row);
      }
    }

    function connect() {
      const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
      const ws = new WebSocket(proto + location.host + '/v1/sync/events');
      ws.onmessage = (ev) => render(JSON.parse(ev.data));
      ws.onclose = () => setTimeout(connect, 2000);
    }

    document.getElementById('drain').onclick = async () => {
      await fetch('/v1/sync/drain', { method: 'POST' });
      refreshQueue();
    };

    connect();
    refreshQueue();
  </script>
</body>
</html>
`

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(dashboardHTML))
}
