// Command eventadmin drives a running rpevents server through its admin API.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/crystal-mush/rpevents/pkg/boltstore"
	"github.com/crystal-mush/rpevents/pkg/gamedb"
	"github.com/crystal-mush/rpevents/pkg/server"
	"github.com/crystal-mush/rpevents/pkg/worldfile"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

const usage = `Usage: eventadmin [flags] <command> [args]

Commands:
  token                      print an admin token
  list [-all]                list upcoming (or all) events
  show <id>                  show one event
  create -name N -date D -room R [-tier T] [-public] [-gm] [-host R]... [-post TEXT]
  start <id> [-room R]       start an event now
  finish <id>                finish an event and hand out rewards
  cancel <id>                cancel an event
  reschedule <id> <date>     move an event
  say <id> <text>            log a message to an active event [-gm] [-as R]
  log <id> [-gm]             print an event log
  status                     show scheduler state
  backups                    list backup archives
  backup                     write a backup now
  damage|heal <ref> <n>      change a character's damage
  scent <ref> <text>         apply a scent
  export -bolt PATH          write the stored world as YAML (server stopped)

Dates are "2006-01-02 15:04" in local time or RFC 3339.

Flags:
`

type app struct {
	conf  *server.GameConf
	url   string
	token string
	as    int
}

func main() {
	log.SetFlags(0)
	confFile := flag.String("conf", envDefault("RPE_CONF", ""), "Path to game config file, for jwt_secret and web_port (env: RPE_CONF)")
	baseURL := flag.String("url", envDefault("RPE_URL", ""), "Server base URL, default http://localhost:<web_port> (env: RPE_URL)")
	token := flag.String("token", envDefault("RPE_TOKEN", ""), "Admin token; minted from jwt_secret when empty (env: RPE_TOKEN)")
	as := flag.Int("as", 1, "Player dbref the minted token speaks for")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	gc := server.DefaultGameConf()
	if *confFile != "" {
		var err error
		if gc, err = server.LoadGameConf(*confFile); err != nil {
			log.Fatalf("Error loading game config: %v", err)
		}
	}
	if v := os.Getenv("RPE_JWT_SECRET"); v != "" {
		gc.JWTSecret = v
	}
	a := &app{conf: gc, url: *baseURL, token: *token, as: *as}
	if a.url == "" {
		a.url = fmt.Sprintf("http://localhost:%d", gc.WebPort)
	}

	if err := a.run(flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Fatalf("eventadmin: %v", err)
	}
}

func (a *app) mintToken() (string, error) {
	if a.token != "" {
		return a.token, nil
	}
	if a.conf.JWTSecret == "" {
		return "", fmt.Errorf("no token given and jwt_secret is not configured")
	}
	auth := server.NewAuthService(a.conf.JWTSecret, a.conf.JWTExpiry)
	return auth.Issue(gamedb.DBRef(a.as), "eventadmin", true)
}

func (a *app) client() (*client, error) {
	tok, err := a.mintToken()
	if err != nil {
		return nil, err
	}
	return newClient(a.url, tok), nil
}

func (a *app) run(cmd string, args []string) error {
	out := os.Stdout
	switch cmd {
	case "token":
		tok, err := a.mintToken()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, tok)
		return nil
	case "export":
		return a.export(args)
	case "help":
		flag.Usage()
		return nil
	}

	c, err := a.client()
	if err != nil {
		return err
	}

	switch cmd {
	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		all := fs.Bool("all", false, "include finished events")
		fs.Parse(args)
		path := "/api/v1/events"
		if *all {
			path += "?all=1"
		}
		var res eventList
		if err := c.call("GET", path, nil, &res); err != nil {
			return err
		}
		printEvents(out, res.Events)

	case "show", "finish", "cancel":
		id, err := eventArg(args)
		if err != nil {
			return err
		}
		if cmd == "cancel" {
			if err := c.call("POST", eventPath(id, "cancel"), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(out, "Event %d cancelled.\n", id)
			return nil
		}
		var ev event
		if cmd == "show" {
			err = c.call("GET", eventPath(id, ""), nil, &ev)
		} else {
			err = c.call("POST", eventPath(id, "finish"), nil, &ev)
		}
		if err != nil {
			return err
		}
		printEvent(out, ev)

	case "start":
		id, err := eventArg(args)
		if err != nil {
			return err
		}
		fs := flag.NewFlagSet("start", flag.ExitOnError)
		room := fs.String("room", "", "start in this room instead of the scheduled one")
		fs.Parse(args[1:])
		var body any
		if *room != "" {
			ref, err := parseRef(*room)
			if err != nil {
				return err
			}
			body = map[string]int{"location": ref}
		}
		var ev event
		if err := c.call("POST", eventPath(id, "start"), body, &ev); err != nil {
			return err
		}
		printEvent(out, ev)

	case "create":
		return a.create(c, args)

	case "reschedule":
		if len(args) < 2 {
			return fmt.Errorf("usage: reschedule <id> <date>")
		}
		id, err := eventArg(args)
		if err != nil {
			return err
		}
		date, err := parseDate(strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		var ev event
		if err := c.call("PUT", eventPath(id, "date"), map[string]time.Time{"date": date}, &ev); err != nil {
			return err
		}
		printEvent(out, ev)

	case "say":
		id, err := eventArg(args)
		if err != nil {
			return err
		}
		fs := flag.NewFlagSet("say", flag.ExitOnError)
		gm := fs.Bool("gm", false, "write to the GM log only")
		sender := fs.String("as", "", "character or player dbref to enrol")
		fs.Parse(args[1:])
		text := strings.Join(fs.Args(), " ")
		body := map[string]any{"text": text, "gm": *gm}
		if *sender != "" {
			ref, err := parseRef(*sender)
			if err != nil {
				return err
			}
			body["sender"] = ref
		}
		if err := c.call("POST", eventPath(id, "messages"), body, nil); err != nil {
			return err
		}
		fmt.Fprintln(out, "Logged.")

	case "log":
		id, err := eventArg(args)
		if err != nil {
			return err
		}
		fs := flag.NewFlagSet("log", flag.ExitOnError)
		gm := fs.Bool("gm", false, "print the GM log")
		fs.Parse(args[1:])
		path := eventPath(id, "log")
		if *gm {
			path += "?gm=1"
		}
		data, err := c.do("GET", path, nil)
		if err != nil {
			return err
		}
		out.Write(data)

	case "status":
		var s schedulerState
		if err := c.call("GET", "/api/v1/scheduler", nil, &s); err != nil {
			return err
		}
		printScheduler(out, s)

	case "backups":
		var res backupList
		if err := c.call("GET", "/api/v1/backups", nil, &res); err != nil {
			return err
		}
		printBackups(out, res.Backups)

	case "backup":
		var res struct {
			Path string `json:"path"`
		}
		if err := c.call("POST", "/api/v1/backups", nil, &res); err != nil {
			return err
		}
		fmt.Fprintf(out, "Backup written to %s\n", res.Path)

	case "damage", "heal", "scent":
		if len(args) < 2 {
			return fmt.Errorf("usage: %s <ref> <value>", cmd)
		}
		ref, err := parseRef(args[0])
		if err != nil {
			return err
		}
		var body any
		if cmd == "scent" {
			body = map[string]string{"scent": strings.Join(args[1:], " ")}
		} else {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			body = map[string]int{"amount": n}
		}
		var res struct {
			Name   string `json:"name"`
			Damage int    `json:"damage"`
			Scent  string `json:"scent"`
		}
		path := "/api/v1/characters/" + url.PathEscape(fmt.Sprintf("#%d", ref)) + "/" + cmd
		if err := c.call("POST", path, body, &res); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: damage %d, scent %q\n", res.Name, res.Damage, res.Scent)

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// refList collects repeated -host flags.
type refList []int

func (r *refList) String() string { return fmt.Sprint(*r) }

func (r *refList) Set(s string) error {
	ref, err := parseRef(s)
	if err != nil {
		return err
	}
	*r = append(*r, ref)
	return nil
}

func (a *app) create(c *client, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "event name")
	desc := fs.String("desc", "", "description")
	date := fs.String("date", "", "start date")
	room := fs.String("room", "", "room dbref")
	tier := fs.Int("tier", 0, "celebration tier, 0 to 5")
	public := fs.Bool("public", false, "announce to the whole game")
	gm := fs.Bool("gm", false, "GM-run event")
	post := fs.String("post", "", "bulletin board post body")
	var hosts, gms refList
	fs.Var(&hosts, "host", "host dbref (repeatable)")
	fs.Var(&gms, "gmref", "GM dbref (repeatable)")
	fs.Parse(args)

	if *name == "" || *date == "" || *room == "" {
		return fmt.Errorf("create needs -name, -date and -room")
	}
	when, err := parseDate(*date)
	if err != nil {
		return err
	}
	loc, err := parseRef(*room)
	if err != nil {
		return err
	}
	body := map[string]any{
		"name":        *name,
		"description": *desc,
		"date":        when,
		"location":    loc,
		"tier":        *tier,
		"public":      *public,
		"gm_event":    *gm,
		"hosts":       []int(hosts),
		"gms":         []int(gms),
		"post":        *post,
	}
	var ev event
	if err := c.call("POST", "/api/v1/events", body, &ev); err != nil {
		return err
	}
	printEvent(os.Stdout, ev)
	return nil
}

func (a *app) export(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	boltPath := fs.String("bolt", a.conf.BoltPath, "bbolt world database")
	outPath := fs.String("o", "", "output file (default stdout)")
	fs.Parse(args)

	store, err := boltstore.Open(*boltPath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.LoadAll(); err != nil {
		return err
	}

	w := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return worldfile.Write(w, store.DB())
}

func eventArg(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("event id required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid event id %q", args[0])
	}
	return id, nil
}

func eventPath(id int64, op string) string {
	p := "/api/v1/events/" + strconv.FormatInt(id, 10)
	if op != "" {
		p += "/" + op
	}
	return p
}

// parseRef accepts "#12" or "12".
func parseRef(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid dbref %q", s)
	}
	return n, nil
}

var dateLayouts = []string{"2006-01-02 15:04", "2006-01-02T15:04"}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}
