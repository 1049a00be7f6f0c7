package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/starford/paperlens/internal"
	"github.com/starford/paperlens/internal/mcpserver"
	"github.com/starford/paperlens/internal/models"
	"github.com/starford/paperlens/internal/paperservice"
	"github.com/starford/paperlens/internal/session"
)

var errArgs = errors.New("missing argument")

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "login",
			Usage: "Log in and store the session",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Sources: cli.EnvVars("PAPERLENS_USERNAME")},
				&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Sources: cli.EnvVars("PAPERLENS_PASSWORD")},
			},
			Action: withRuntime(login),
		},
		{
			Name:   "logout",
			Usage:  "End the session",
			Action: withRuntime(logout),
		},
		{
			Name:   "whoami",
			Usage:  "Show the current session",
			Action: withRuntime(whoami),
		},
		{
			Name:  "register",
			Usage: "Create an account",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
				&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Sources: cli.EnvVars("PAPERLENS_PASSWORD")},
				&cli.StringFlag{Name: "email"},
				&cli.StringFlag{Name: "name"},
			},
			Action: withRuntime(register),
		},
		{
			Name:  "quit",
			Usage: "Delete the account",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "yes", Usage: "Confirm account deletion"},
			},
			Action: withRuntime(quit),
		},
		{
			Name:      "search",
			Usage:     "Search papers",
			ArgsUsage: "[query]",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{Name: "category", Aliases: []string{"cat"}, Usage: "Category code, repeatable (e.g. cs.AI)"},
				&cli.IntFlag{Name: "page", Value: 1},
				&cli.StringFlag{Name: "sort", Usage: "relevance, date or citations"},
			},
			Action: withRuntime(search),
		},
		{
			Name:      "paper",
			Usage:     "Show one paper",
			ArgsUsage: "<paper-id>",
			Action:    withRuntime(paper),
		},
		{
			Name:      "recommend",
			Usage:     "Recommend papers related to a paper",
			ArgsUsage: "<paper-id>",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "top-k", Value: paperservice.DefaultTopK},
				&cli.IntFlag{Name: "candidate-k", Value: paperservice.DefaultCandidateK},
			},
			Action: withRuntime(recommend),
		},
		{
			Name:  "bookmarks",
			Usage: "Manage bookmarks",
			Commands: []*cli.Command{
				{
					Name:   "list",
					Usage:  "List bookmarks",
					Action: withRuntime(listBookmarks),
				},
				{
					Name:      "add",
					Usage:     "Bookmark a paper",
					ArgsUsage: "<paper-id>",
					Flags:     []cli.Flag{&cli.StringFlag{Name: "notes"}},
					Action:    withRuntime(addBookmark),
				},
				{
					Name:      "rm",
					Usage:     "Remove a bookmark",
					ArgsUsage: "<paper-id>",
					Action:    withRuntime(removeBookmark),
				},
				{
					Name:      "toggle",
					Usage:     "Bookmark a paper or remove its bookmark",
					ArgsUsage: "<paper-id>",
					Flags:     []cli.Flag{&cli.StringFlag{Name: "notes"}},
					Action:    withRuntime(toggleBookmark),
				},
				{
					Name:      "note",
					Usage:     "Replace the notes of a bookmark",
					ArgsUsage: "<bookmark-id> <notes>",
					Action:    withRuntime(noteBookmark),
				},
			},
		},
		{
			Name:  "history",
			Usage: "Show recent searches",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Value: paperservice.DefaultHistoryLimit},
			},
			Action: withRuntime(history),
		},
		{
			Name:  "interests",
			Usage: "Manage interest categories",
			Commands: []*cli.Command{
				{
					Name:   "list",
					Usage:  "List interest categories",
					Action: withRuntime(listInterests),
				},
				{
					Name:      "set",
					Usage:     "Replace interest categories",
					ArgsUsage: "<code>...",
					Action:    withRuntime(setInterests),
				},
			},
		},
		{
			Name:   "serve",
			Usage:  "Run the local HTTP gateway",
			Action: serve,
		},
		{
			Name:   "mcp",
			Usage:  "Run the MCP tool server on stdio",
			Action: withRuntime(serveMCP),
		},
	}
}

func firstArg(cmd *cli.Command, name string) (string, error) {
	v := strings.TrimSpace(cmd.Args().First())
	if v == "" {
		return "", fmt.Errorf("%w: %s", errArgs, name)
	}
	return v, nil
}

// prompt reads one line from stdin.
func prompt(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func login(ctx context.Context, cmd *cli.Command, rt *internal.Runtime, out printer) error {
	username := cmd.String("username")
	if username == "" {
		var err error
		if username, err = prompt("username"); err != nil {
			return err
		}
	}
	password := cmd.String("password")
	if password == "" {
		var err error
		if password, err = prompt("password"); err != nil {
			return err
		}
	}
	info, err := rt.Service.Login(ctx, username, password)
	if err != nil {
		return err
	}
	return out.print(info)
}

func logout(ctx context.Context, _ *cli.Command, rt *internal.Runtime, _ printer) error {
	return rt.Service.Logout(ctx)
}

type whoamiView struct {
	Session   paperservice.SessionInfo `json:"session"`
	Profile   *models.UserProfile      `json:"profile,omitempty"`
	ExpiresAt *time.Time               `json:"token_expires_at,omitempty"`
}

func whoami(ctx context.Context, _ *cli.Command, rt *internal.Runtime, out printer) error {
	view := whoamiView{Session: rt.Service.Session()}
	if rt.Auth.IsLoggedIn() {
		if claims, ok := session.InspectToken(rt.Auth.Token()); ok {
			view.ExpiresAt = claims.ExpiresAt
		}
		p, err := rt.Service.Profile(ctx)
		if err != nil {
			return err
		}
		view.Profile = &p
		view.Session = rt.Service.Session()
	}
	if out.format == formatText {
		if err := out.print(view.Session); err != nil {
			return err
		}
		if view.ExpiresAt != nil {
			fmt.Fprintf(out.w, "expires   %s\n", view.ExpiresAt.Local().Format(time.RFC3339))
		}
		return nil
	}
	return out.print(view)
}

func register(ctx context.Context, cmd *cli.Command, rt *internal.Runtime, out printer) error {
	req := models.RegisterRequest{
		Username: cmd.String("username"),
		Password: cmd.String("password"),
		Email:    cmd.String("email"),
		Name:     cmd.String("name"),
	}
	if req.Password == "" {
		var err error
		if req.Password, err = prompt("password"); err != nil {
			return err
		}
	}
	taken, err := rt.Service.UsernameExists(ctx, req.Username)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("username %q is already taken", req.Username)
	}
	u, err := rt.Service.Register(ctx, req)
	if err != nil {
		return err
	}
	return out.print(u)
}

func quit(ctx context.Context, cmd *cli.Command, rt *internal.Runtime, _ printer) error {
	if !cmd.Bool("yes") {
		return errors.New("account deletion needs --yes")
	}
	return rt.Service.QuitAccount(ctx)
}

func search(ctx context.Context, cmd *cli.Command, rt *internal.Runtime, out printer) error {
	page, err := rt.Service.Search(ctx, paperservice.SearchParams{
		Query:      strings.Join(cmd.Args().Slice(), " "),
		Categories: cmd.StringSlice("category"),
		Page:       int(cmd.Int("page")),
		Sort:       cmd.String("sort"),
	})
	if err != nil {
		return err
	}
	return out.print(page)
}

func paper(ctx context.Context, cmd *cli.Command, rt *internal.Runtime, out printer) error {
	id, err := firstArg(cmd, "paper-id")
	if err != nil {
		return err
	}
	p, err := rt.Service.Paper(ctx, models.PaperID(id))
	if err != nil {
		return err
	}
	return out.print(p)
}

func recommend(ctx context.Context, cmd *cli.Command, rt *internal.Runtime, out printer) error {
	id, err := firstArg(cmd, "paper-id")
	if err != nil {
		return err
	}
	recs, err := rt.Service.Recommendations(ctx, models.PaperID(id), int(cmd.Int("top-k")), int(cmd.Int("candidate-k")))
	if err != nil {
		return err
	}
	return out.print(recs)
}

func listBookmarks(ctx context.Context, _ *cli.Command, rt *internal.Runtime, out printer) error {
	list, err := rt.Service.Bookmarks(ctx)
	if err != nil {
		return err
	}
	return out.print(list)
}

func addBookmark(ctx context.Context, cmd *cli.Command, rt *internal.Runtime, out printer) error {
	id, err := firstArg(cmd, "paper-id")
	if err != nil {
		return err
	}
	bm, err := rt.Service.AddBookmark(ctx, models.PaperID(id), cmd.String("notes"))
	if err != nil {
		return err
	}
	return out.print(bm)
}

func removeBookmark(ctx context.Context, cmd *cli.Command, rt *internal.Runtime, _ printer) error {
	id, err := firstArg(cmd, "paper-id")
	if err != nil {
		return err
	}
	return rt.Service.RemoveBookmark(ctx, models.PaperID(id))
}

func toggleBookmark(ctx context.Context, cmd *cli.Command, rt *internal.Runtime, out printer) error {
	id, err := firstArg(cmd, "paper-id")
	if err != nil {
		return err
	}
	on, err := rt.Service.ToggleBookmark(ctx, models.PaperID(id), cmd.String("notes"))
	if err != nil {
		return err
	}
	return out.print(map[string]any{"paper_id": id, "bookmarked": on})
}

func noteBookmark(ctx context.Context, cmd *cli.Command, rt *internal.Runtime, out printer) error {
	if cmd.NArg() < 2 {
		return fmt.Errorf("%w: <bookmark-id> <notes>", errArgs)
	}
	args := cmd.Args().Slice()
	bm, err := rt.Service.UpdateBookmarkNote(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	return out.print(bm)
}

func history(ctx context.Context, cmd *cli.Command, rt *internal.Runtime, out printer) error {
	entries, err := rt.Service.SearchHistory(ctx, int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	return out.print(entries)
}

func listInterests(ctx context.Context, _ *cli.Command, rt *internal.Runtime, out printer) error {
	set, err := rt.Service.Interests(ctx)
	if err != nil {
		return err
	}
	return out.print(set)
}

func setInterests(ctx context.Context, cmd *cli.Command, rt *internal.Runtime, out printer) error {
	var codes []string
	for _, a := range cmd.Args().Slice() {
		codes = append(codes, strings.Split(a, ",")...)
	}
	set, err := rt.Service.SaveInterests(ctx, codes)
	if err != nil {
		return err
	}
	return out.print(set)
}

func serveMCP(_ context.Context, _ *cli.Command, rt *internal.Runtime, _ printer) error {
	return mcpserver.New(rt.Service, version).ServeStdio()
}
