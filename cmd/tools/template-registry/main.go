// cmd/tools/template-registry/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"settlement-engine/pkg/registry"
)

const defaultPath = "configs/templates.json"

func main() {
	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	updateCmd := flag.NewFlagSet("update", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)

	addPath := addCmd.String("path", defaultPath, "Path to registry file")
	entryFile := addCmd.String("entry", "", "JSON file holding one template entry")
	addStatus := addCmd.String("status", registry.StatusDraft, "Status for the new entry (draft, active, retired)")

	updatePath := updateCmd.String("path", defaultPath, "Path to registry file")
	name := updateCmd.String("name", "", "Template name to update")
	field := updateCmd.String("field", "", "Field to update (status, description, tags)")
	value := updateCmd.String("value", "", "New value for the field")

	validatePath := validateCmd.String("path", defaultPath, "Path to registry file")
	listPath := listCmd.String("path", defaultPath, "Path to registry file")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "add":
		addCmd.Parse(os.Args[2:])
		if *entryFile == "" {
			fmt.Println("Error: entry is required for add.")
			addCmd.Usage()
			os.Exit(1)
		}
		entry, err := readEntry(*entryFile)
		if err != nil {
			fmt.Printf("Error reading entry: %v\n", err)
			os.Exit(1)
		}
		if entry.Status == "" {
			entry.Status = *addStatus
		}
		if err := addTemplate(*addPath, entry); err != nil {
			fmt.Printf("Error adding template: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added template: %s\n", entry.Name)

	case "update":
		updateCmd.Parse(os.Args[2:])
		if *name == "" || *field == "" {
			fmt.Println("Error: name and field are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		if err := updateTemplate(*updatePath, *name, *field, *value); err != nil {
			fmt.Printf("Error updating template: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Updated template %s, field %s to %s\n", *name, *field, *value)

	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := validateRegistry(*validatePath); err != nil {
			fmt.Printf("Registry validation failed:\n%v\n", err)
			os.Exit(1)
		}
		fmt.Println("Registry validation passed.")

	case "list":
		listCmd.Parse(os.Args[2:])
		if err := listTemplates(*listPath); err != nil {
			fmt.Printf("Error listing templates: %v\n", err)
			os.Exit(1)
		}

	case "help":
		fallthrough
	default:
		help()
	}
}

func readEntry(path string) (*registry.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry registry.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse entry: %w", err)
	}
	if entry.Name == "" {
		return nil, fmt.Errorf("entry missing required field: name")
	}
	return &entry, nil
}

func addTemplate(path string, entry *registry.Entry) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to load registry: %w", err)
		}
		reg = &registry.TemplateRegistry{Version: "1.0.0"}
	}

	if _, exists := reg.Find(entry.Name); exists {
		return fmt.Errorf("template %s already exists", entry.Name)
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	reg.Templates = append(reg.Templates, *entry)
	reg.LastUpdated = time.Now().Format(time.RFC3339)
	return registry.SaveRegistry(reg, path)
}

func updateTemplate(path, name, field, value string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	entry, ok := reg.Find(name)
	if !ok {
		return fmt.Errorf("template %s not found", name)
	}
	switch field {
	case "status":
		entry.Status = value
	case "description":
		entry.Description = value
	case "tags":
		entry.Tags = splitTags(value)
	default:
		return fmt.Errorf("unknown field: %s", field)
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	reg.LastUpdated = time.Now().Format(time.RFC3339)
	return registry.SaveRegistry(reg, path)
}

func splitTags(value string) []string {
	var tags []string
	for _, t := range strings.Split(value, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func validateRegistry(path string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	if len(reg.Templates) == 0 {
		return fmt.Errorf("registry contains no templates")
	}
	return reg.Validate()
}

func listTemplates(path string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tPARAMS\tCONDITIONS\tACTIONS\tTAGS")
	for _, e := range reg.Templates {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			e.Name, e.Status, len(e.Parameters), len(e.Conditions), len(e.Actions), strings.Join(e.Tags, ","))
	}
	return w.Flush()
}

func help() {
	fmt.Println("Usage: template-registry <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  add       Add a template entry from a JSON file")
	fmt.Println("  update    Update status, description or tags of a template")
	fmt.Println("  validate  Validate the registry file")
	fmt.Println("  list      List templates in the registry")
	fmt.Println("  help      Show this help message")
}
