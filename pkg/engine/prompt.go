package engine

import (
	"fmt"
	"strconv"
	"strings"

	"personafeed/pkg/holiday"
	"personafeed/pkg/templates"
	"personafeed/pkg/textgen"
)

const (
	unknownAuthor  = "someone"
	deletedContent = "a post that has since been deleted"

	imagePromptContentLimit = 200
)

const postRules = `Rules:
- Write in the first person, as yourself.
- The inspiration is only a starting point. Never copy it word for word.
- Do not use brackets, placeholders or any markup in your post.
- Keep it short enough for a social feed. Hashtags are optional.
- Reply with the post text only.`

func placeholderValues(c *Context) map[string]string {
	p := c.Persona
	values := map[string]string{
		"name":      p.Name,
		"age":       strconv.Itoa(p.Age),
		"job":       p.Job,
		"location":  p.Location,
		"likes":     p.Likes,
		"dislikes":  p.Dislikes,
		"hobbies":   orDefault(p.Hobbies, p.Likes),
		"dreams":    p.Dreams,
		"fears":     p.Fears,
		"education": p.Education,
		"holiday":   c.Holiday.Holiday.Name,
	}
	if c.Parent != nil {
		values["parent_author"] = c.ParentAuthor
		values["parent_content"] = c.Parent.Content
		values["grandparent_author"] = unknownAuthor
		values["grandparent_content"] = deletedContent
	}
	if c.Grandparent != nil {
		values["grandparent_author"] = c.GrandparentAuthor
		values["grandparent_content"] = c.Grandparent.Content
	}
	if a := c.Article; a != nil {
		values["news_title"] = a.Title
		values["news_source"] = orDefault(a.Source, "the news")
		values["news_description"] = a.Description
	}
	return values
}

func buildMessages(mode templates.Mode, c *Context, inspiration string) []textgen.Message {
	return []textgen.Message{
		{Role: "system", Content: background(c) + "\n\n" + postRules},
		{Role: "user", Content: situation(mode, c) + "\n\nInspiration: " + inspiration},
	}
}

func background(c *Context) string {
	p := c.Persona
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s", p.Name)
	if p.Handle != "" {
		fmt.Fprintf(&b, " (%s)", p.Handle)
	}
	fmt.Fprintf(&b, ", a %d-year-old %s living in %s.\n", p.Age, p.Job, p.Location)

	line := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, v)
		}
	}
	line("Education", p.Education)
	line("About you", orDefault(p.SummarizedBio, p.Bio))
	line("Goals", p.Goals)
	line("Dreams", p.Dreams)
	line("Fears", p.Fears)
	line("Likes", p.Likes)
	line("Dislikes", p.Dislikes)
	line("Hobbies", p.Hobbies)

	if c.Holiday.Active() {
		b.WriteString(holidayLine(c.Holiday) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func situation(mode templates.Mode, c *Context) string {
	switch mode {
	case templates.ModeNews:
		a := c.Article
		return fmt.Sprintf("You came across this article.\nHeadline: %s\nSource: %s\nSummary: %s\nLink: %s\nWrite a post reacting to it.",
			a.Title, orDefault(a.Source, "unknown"), a.Description, a.URL)
	case templates.ModeReply:
		return fmt.Sprintf("%s posted: \"%s\"\nWrite your reply to %s.",
			c.ParentAuthor, c.Parent.Content, c.ParentAuthor)
	case templates.ModeThreadedReply:
		gpAuthor, gpContent := unknownAuthor, deletedContent
		if c.Grandparent != nil {
			gpAuthor, gpContent = c.GrandparentAuthor, c.Grandparent.Content
		}
		return fmt.Sprintf("%s posted: \"%s\"\n%s replied: \"%s\"\nWrite your reply to %s, keeping the whole thread in mind.",
			gpAuthor, gpContent, c.ParentAuthor, c.Parent.Content, c.ParentAuthor)
	default:
		return "Write a new post for your feed."
	}
}

func imagePrompt(content, physical string) string {
	prompt := "A photo to accompany this social media post: \"" + truncateRunes(content, imagePromptContentLimit) + "\""
	if physical = strings.TrimSpace(physical); physical != "" {
		prompt += ". If the author appears, they look like this: " + physical
	}
	return prompt
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func holidayLine(hc holiday.Context) string {
	switch {
	case hc.Offset == 0:
		return fmt.Sprintf("Today is %s.", hc.Holiday.Name)
	case hc.Offset < 0:
		return fmt.Sprintf("%s was %d days ago.", hc.Holiday.Name, -hc.Offset)
	default:
		return fmt.Sprintf("%s is %d days away.", hc.Holiday.Name, hc.Offset)
	}
}
