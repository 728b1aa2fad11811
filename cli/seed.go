package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/utils"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// SeedFile is the YAML layout accepted by `tablesync seed`.
type SeedFile struct {
	Restaurant struct {
		Name      string `yaml:"name"`
		Timezone  string `yaml:"timezone"`
		OpenTime  string `yaml:"open_time"`
		CloseTime string `yaml:"close_time"`
	} `yaml:"restaurant"`
	Tables      []string         `yaml:"tables"`
	Staff       []SeedStaff      `yaml:"staff"`
	AddonGroups []SeedAddonGroup `yaml:"addon_groups"`
	Menu        []SeedMenuItem   `yaml:"menu"`
}

type SeedStaff struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

type SeedAddonGroup struct {
	Name  string      `yaml:"name"`
	Items []SeedPrice `yaml:"items"`
}

type SeedPrice struct {
	Name  string  `yaml:"name"`
	Price float64 `yaml:"price"`
}

type SeedMenuItem struct {
	Name        string          `yaml:"name"`
	Price       float64         `yaml:"price"`
	POSCode     string          `yaml:"pos_code"`
	AddonGroups []string        `yaml:"addon_groups"`
	Variations  []SeedVariation `yaml:"variations"`
}

type SeedVariation struct {
	Name        string   `yaml:"name"`
	Price       float64  `yaml:"price"`
	AddonGroups []string `yaml:"addon_groups"`
}

// SeedReport counts what a seed run created.
type SeedReport struct {
	RestaurantID uint
	Tables       int
	Staff        int
	MenuItems    int
	Variations   int
	AddonItems   int
}

func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a restaurant, its tables, staff and menu from YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := ReadSeedFile(file)
			if err != nil {
				return err
			}
			cfg := rootOpts.Config()
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			report, err := ApplySeed(db, seed, cfg.BcryptCost)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restaurant %d: %d tables, %d staff, %d menu items, %d variations, %d addons\n",
				report.RestaurantID, report.Tables, report.Staff, report.MenuItems, report.Variations, report.AddonItems)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "seed.yaml", "seed file")
	return cmd
}

func ReadSeedFile(path string) (*SeedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return DecodeSeed(f)
}

func DecodeSeed(r io.Reader) (*SeedFile, error) {
	var seed SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if strings.TrimSpace(seed.Restaurant.Name) == "" {
		return nil, fmt.Errorf("seed: restaurant.name is required")
	}
	return &seed, nil
}

// ApplySeed writes the whole file in one transaction.
func ApplySeed(db *gorm.DB, seed *SeedFile, bcryptCost int) (*SeedReport, error) {
	report := &SeedReport{}
	err := db.Transaction(func(tx *gorm.DB) error {
		restaurant := models.Restaurant{
			Name:      seed.Restaurant.Name,
			Timezone:  seed.Restaurant.Timezone,
			OpenTime:  seed.Restaurant.OpenTime,
			CloseTime: seed.Restaurant.CloseTime,
		}
		if restaurant.Timezone == "" {
			restaurant.Timezone = "UTC"
		}
		if err := tx.Create(&restaurant).Error; err != nil {
			return fmt.Errorf("restaurant: %w", err)
		}
		report.RestaurantID = restaurant.ID

		for _, number := range seed.Tables {
			table := models.Table{
				PID:          uuid.NewString(),
				RestaurantID: restaurant.ID,
				TableNumber:  number,
				Status:       models.TableStatusOpen,
			}
			if err := tx.Create(&table).Error; err != nil {
				return fmt.Errorf("table %s: %w", number, err)
			}
			report.Tables++
		}

		for _, s := range seed.Staff {
			hash, err := utils.HashPassword(s.Password, bcryptCost)
			if err != nil {
				return fmt.Errorf("staff %s: %w", s.Email, err)
			}
			staff := models.StaffUser{
				RestaurantID: restaurant.ID,
				Name:         s.Name,
				Email:        strings.ToLower(strings.TrimSpace(s.Email)),
				Password:     hash,
				Role:         s.Role,
			}
			if staff.Role == "" {
				staff.Role = "staff"
			}
			if err := tx.Create(&staff).Error; err != nil {
				return fmt.Errorf("staff %s: %w", s.Email, err)
			}
			report.Staff++
		}

		groups := make(map[string]uint, len(seed.AddonGroups))
		for _, g := range seed.AddonGroups {
			group := models.AddonGroup{RestaurantID: restaurant.ID, Name: g.Name, IsActive: true}
			if err := tx.Create(&group).Error; err != nil {
				return fmt.Errorf("addon group %s: %w", g.Name, err)
			}
			groups[g.Name] = group.ID
			for _, it := range g.Items {
				item := models.AddonItem{GroupID: group.ID, Name: it.Name, Price: it.Price, IsActive: true}
				if err := tx.Create(&item).Error; err != nil {
					return fmt.Errorf("addon %s: %w", it.Name, err)
				}
				report.AddonItems++
			}
		}
		groupID := func(name string) (uint, error) {
			id, ok := groups[name]
			if !ok {
				return 0, fmt.Errorf("unknown addon group %q", name)
			}
			return id, nil
		}

		for _, m := range seed.Menu {
			item := models.MenuItem{RestaurantID: restaurant.ID, Name: m.Name, Price: m.Price, POSCode: m.POSCode, IsActive: true}
			if err := tx.Create(&item).Error; err != nil {
				return fmt.Errorf("menu item %s: %w", m.Name, err)
			}
			report.MenuItems++
			for _, name := range m.AddonGroups {
				id, err := groupID(name)
				if err != nil {
					return fmt.Errorf("menu item %s: %w", m.Name, err)
				}
				link := models.MenuItemAddonGroup{MenuItemID: item.ID, AddonGroupID: id, IsActive: true}
				if err := tx.Create(&link).Error; err != nil {
					return err
				}
			}

			for _, v := range m.Variations {
				variation := models.Variation{MenuItemID: item.ID, Name: v.Name, Price: v.Price, IsActive: true}
				if err := tx.Create(&variation).Error; err != nil {
					return fmt.Errorf("variation %s/%s: %w", m.Name, v.Name, err)
				}
				report.Variations++
				for _, name := range v.AddonGroups {
					id, err := groupID(name)
					if err != nil {
						return fmt.Errorf("variation %s/%s: %w", m.Name, v.Name, err)
					}
					link := models.VariationAddonGroup{VariationID: variation.ID, AddonGroupID: id, IsActive: true}
					if err := tx.Create(&link).Error; err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
