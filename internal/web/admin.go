package web

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// AdminHome is the operator page: every hosted document with its roster,
// phase and idle time, plus the GC controls.
func AdminHome(data AdminHomeData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Party Cards host</title>
  </head>
  <body>
    <main class="shell">
      <header class="hero">
        <span class="tag">Party Cards</span>
        <h1>Session host</h1>
        <p>`)
		b.WriteString(itoa(len(data.Documents)))
		b.WriteString(` documents, `)
		b.WriteString(itoa(data.ActiveClients))
		b.WriteString(` clients. Idle documents are collected after `)
		b.WriteString(itoa(data.IdleGCSeconds))
		b.WriteString(`s. Generated `)
		b.WriteString(formatTime(data.GeneratedAt))
		b.WriteString(`.</p>
      </header>
`)
		if len(data.Documents) == 0 {
			b.WriteString(`      <p class="empty">No documents hosted.</p>
`)
		} else {
			b.WriteString(`      <table class="documents">
        <thead><tr><th>Document</th><th>Phase</th><th>Clients</th><th>Idle</th><th>Roster</th><th></th></tr></thead>
        <tbody>
`)
			for _, row := range data.Documents {
				code := templ.EscapeString(row.Document)
				b.WriteString(`          <tr><td>`)
				b.WriteString(code)
				b.WriteString(`</td><td>`)
				b.WriteString(templ.EscapeString(phaseLabel(row.Phase)))
				b.WriteString(`</td><td>`)
				b.WriteString(itoa(row.Clients))
				b.WriteString(`</td><td>`)
				b.WriteString(formatIdle(row))
				b.WriteString(`</td><td>`)
				b.WriteString(formatRoster(row.Roster))
				b.WriteString(`</td><td><button data-document="`)
				b.WriteString(code)
				b.WriteString(`" class="collect">Collect</button></td></tr>
`)
			}
			b.WriteString(`        </tbody>
      </table>
`)
		}
		b.WriteString(`      <button id="collectAll" class="secondary">Collect all</button>
    </main>

    <script>
      document.querySelectorAll("button.collect").forEach((btn) => {
        btn.addEventListener("click", async () => {
          await fetch("/gc/" + encodeURIComponent(btn.dataset.document), { method: "DELETE" });
          location.reload();
        });
      });
      document.getElementById("collectAll").addEventListener("click", async () => {
        await fetch("/gc", { method: "POST" });
        location.reload();
      });
    </script>
  </body>
</html>
`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}
