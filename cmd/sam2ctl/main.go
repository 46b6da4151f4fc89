package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/getcharzp/sam2-vision/client"
)

func newClient(c *cli.Context) *client.Client {
	return client.New(c.String("addr"))
}

func health(c *cli.Context) error {
	if err := newClient(c).Health(c.Context); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "ok")
	return nil
}

func upload(c *cli.Context) error {
	filePath := c.String("file")
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	res, err := newClient(c).Upload(c.Context, filepath.Base(filePath), data)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s %s\n", res.Filename, res.URL)
	return nil
}

func generate(c *cli.Context) error {
	res, err := newClient(c).GenerateMasks(c.Context, c.String("name"))
	if err != nil {
		return err
	}
	for _, m := range res.Masks {
		if err := writePNG(c, fmt.Sprintf("mask_%03d.png", m.ID), m.Mask); err != nil {
			return err
		}
	}
	if err := writePNG(c, "composite.png", res.CompositeMask); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d masks, image %dx%d\n", len(res.Masks), res.ImageSize[1], res.ImageSize[0])
	return nil
}

func points(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one point x,y[,0|1] is required")
	}
	pts := make([]client.PromptPoint, 0, c.NArg())
	for _, s := range c.Args().Slice() {
		p, err := parsePoint(s)
		if err != nil {
			return err
		}
		pts = append(pts, p)
	}
	res, err := newClient(c).MasksByPoints(c.Context, c.String("name"), pts)
	if err != nil {
		return err
	}
	if res.Warning != "" {
		fmt.Fprintln(c.App.Writer, res.Warning)
		return nil
	}
	return writePNG(c, "points_mask.png", res.Mask)
}

func colors(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one mask.png=color operation is required")
	}
	req := client.ColorRequest{Filename: c.String("name")}
	if prev := c.String("previous"); prev != "" {
		data, err := os.ReadFile(prev)
		if err != nil {
			return err
		}
		req.PreviousImage = base64.StdEncoding.EncodeToString(data)
	}
	for _, s := range c.Args().Slice() {
		maskPath, col, ok := strings.Cut(s, "=")
		if !ok {
			return fmt.Errorf("invalid operation %q, want mask.png=color", s)
		}
		data, err := os.ReadFile(maskPath)
		if err != nil {
			return err
		}
		req.Operations = append(req.Operations, client.ColorOperation{
			Mask:  base64.StdEncoding.EncodeToString(data),
			Color: col,
		})
	}
	res, err := newClient(c).ApplyColors(c.Context, req)
	if err != nil {
		return err
	}
	return writePNG(c, "colored.png", res.ColoredImage)
}

// parsePoint 解析 "x,y" 或 "x,y,0", 坐标为 [0,1] 的归一化值
func parsePoint(s string) (client.PromptPoint, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return client.PromptPoint{}, fmt.Errorf("invalid point %q", s)
	}
	x, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return client.PromptPoint{}, fmt.Errorf("invalid point %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return client.PromptPoint{}, fmt.Errorf("invalid point %q: %w", s, err)
	}
	p := client.PromptPoint{X: x, Y: y}
	if len(parts) == 3 {
		positive := parts[2] != "0"
		p.IsPositive = &positive
	}
	return p, nil
}

func writePNG(c *cli.Context, name, b64 string) error {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	dir := c.String("out")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "wrote", path)
	return nil
}

func nameFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "name",
		Aliases:  []string{"n"},
		Usage:    "uploaded image `FILENAME`",
		Required: true,
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "sam2ctl",
		Usage: "SAM2 segmentation service client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "server `URL`",
				Value:   "http://localhost:8000",
				EnvVars: []string{"SAM2_ADDR"},
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "output `DIR` for returned images",
				Value:   ".",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "health",
				Usage:  "Check that the server is up",
				Action: health,
			},
			{
				Name:    "upload",
				Aliases: []string{"u"},
				Usage:   "Upload an image",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "image `FILE` (png, jpg, jpeg)",
						Required: true,
					},
				},
				Action: upload,
			},
			{
				Name:    "generate",
				Aliases: []string{"g"},
				Usage:   "Generate all masks of an uploaded image",
				Flags:   []cli.Flag{nameFlag()},
				Action:  generate,
			},
			{
				Name:      "points",
				Aliases:   []string{"p"},
				Usage:     "Segment by normalized prompt points",
				ArgsUsage: "x,y[,0|1]...",
				Flags:     []cli.Flag{nameFlag()},
				Action:    points,
			},
			{
				Name:      "colors",
				Aliases:   []string{"c"},
				Usage:     "Paint colors onto mask regions",
				ArgsUsage: "mask.png=color...",
				Flags: []cli.Flag{
					nameFlag(),
					&cli.StringFlag{
						Name:  "previous",
						Usage: "continue painting on a previous result `FILE`",
					},
				},
				Action: colors,
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
